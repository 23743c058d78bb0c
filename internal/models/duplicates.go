// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/drivedex/internal/dbinterface"
)

// DuplicateGroup is a set of files within one scan sharing identical content
// digest and size.
type DuplicateGroup struct {
	ID               int64              `json:"id"`
	ScanID           int64              `json:"scanId"`
	HashValue        string             `json:"hashValue"`
	FileSize         int64              `json:"fileSize"`
	FileCount        int                `json:"fileCount"`
	TotalWastedBytes int64              `json:"totalWastedBytes"`
	Status           string             `json:"status"`
	CreatedAt        time.Time          `json:"createdAt"`
	Members          []*DuplicateMember `json:"members,omitempty"`
}

type DuplicateMember struct {
	ID        int64  `json:"id"`
	GroupID   int64  `json:"groupId"`
	FileID    int64  `json:"fileId"`
	ScanID    int64  `json:"scanId"`
	IsPrimary bool   `json:"isPrimary"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// DuplicateStore persists duplicate groups derived from a scan's catalog.
type DuplicateStore struct {
	db dbinterface.Querier
	tx dbinterface.TxBeginner
}

func NewDuplicateStore(db dbinterface.Querier, tx dbinterface.TxBeginner) *DuplicateStore {
	return &DuplicateStore{db: db, tx: tx}
}

// ReplaceGroupsForScan atomically swaps the scan's duplicate groups for a
// freshly computed set. Member rows cascade with their groups.
func (s *DuplicateStore) ReplaceGroupsForScan(ctx context.Context, scanID int64, groups []*DuplicateGroup) error {
	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace groups: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM duplicate_groups WHERE scan_id = ?", scanID,
	); err != nil {
		return fmt.Errorf("clear old groups: %w", err)
	}

	for _, g := range groups {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (
				scan_id, hash_value, file_size, file_count, total_wasted_bytes, status, created_at
			) VALUES (?, ?, ?, ?, ?, 'unresolved', ?)
		`, scanID, g.HashValue, g.FileSize, g.FileCount, g.TotalWastedBytes, time.Now())
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}

		groupID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get group id: %w", err)
		}
		g.ID = groupID

		for _, m := range g.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_members (group_id, file_id, scan_id, is_primary)
				VALUES (?, ?, ?, ?)
			`, groupID, m.FileID, scanID, m.IsPrimary); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace groups: %w", err)
	}
	return nil
}

// ListGroups returns the scan's duplicate groups with members, largest wasted
// space first.
func (s *DuplicateStore) ListGroups(ctx context.Context, scanID int64) ([]*DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, scan_id, hash_value, file_size, file_count,
		       total_wasted_bytes, status, created_at
		FROM duplicate_groups
		WHERE scan_id = ?
		ORDER BY total_wasted_bytes DESC, group_id
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*DuplicateGroup
	byID := make(map[int64]*DuplicateGroup)
	for rows.Next() {
		var g DuplicateGroup
		if err := rows.Scan(
			&g.ID, &g.ScanID, &g.HashValue, &g.FileSize, &g.FileCount,
			&g.TotalWastedBytes, &g.Status, &g.CreatedAt,
		); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
		byID[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	memberRows, err := s.db.QueryContext(ctx, `
		SELECT m.member_id, m.group_id, m.file_id, m.scan_id, m.is_primary,
		       f.path, f.size_bytes
		FROM duplicate_members m
		JOIN files f ON f.file_id = m.file_id
		WHERE m.scan_id = ?
		ORDER BY m.is_primary DESC, f.path
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var m DuplicateMember
		if err := memberRows.Scan(
			&m.ID, &m.GroupID, &m.FileID, &m.ScanID, &m.IsPrimary,
			&m.Path, &m.SizeBytes,
		); err != nil {
			return nil, err
		}
		if g, ok := byID[m.GroupID]; ok {
			g.Members = append(g.Members, &m)
		}
	}
	return groups, memberRows.Err()
}

// CandidateFiles returns the scan's files eligible for duplicate detection:
// at or above the minimum size, grouped work happens in the service layer.
func (s *DuplicateStore) CandidateFiles(ctx context.Context, scanID, minSize int64) ([]*FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, scan_id, path, size_bytes, modified_date, created_date,
		       accessed_date, extension, is_hidden, is_system, hash_value
		FROM files
		WHERE scan_id = ? AND size_bytes >= ?
		ORDER BY size_bytes, path
	`, scanID, minSize)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var entries []*FileEntry
	for rows.Next() {
		e, err := scanFileRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
