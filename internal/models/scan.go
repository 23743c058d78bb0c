// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"github.com/autobrr/drivedex/internal/dbinterface"
)

var ErrScanNotFound = errors.New("scan not found")

type ScanStatus string

const (
	ScanStatusInProgress ScanStatus = "in_progress"
	ScanStatusComplete   ScanStatus = "complete"
	ScanStatusFailed     ScanStatus = "failed"
	ScanStatusCancelled  ScanStatus = "cancelled"
)

// Scan is one full-catalog scan run over a mounted drive.
type Scan struct {
	ID             int64      `json:"id"`
	DriveID        int64      `json:"driveId"`
	MountPoint     string     `json:"mountPoint"`
	ScanStart      time.Time  `json:"scanStart"`
	ScanEnd        *time.Time `json:"scanEnd,omitempty"`
	FileCount      int64      `json:"fileCount"`
	TotalSizeBytes int64      `json:"totalSizeBytes"`
	ErrorCount     int64      `json:"errorCount"`
	Status         ScanStatus `json:"status"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// FileEntry is one cataloged file within a scan. Timestamps that the
// filesystem could not provide stay nil rather than zero.
type FileEntry struct {
	ID           int64      `json:"id"`
	ScanID       int64      `json:"scanId"`
	Path         string     `json:"path"`
	SizeBytes    int64      `json:"sizeBytes"`
	ModifiedDate *time.Time `json:"modifiedDate,omitempty"`
	CreatedDate  *time.Time `json:"createdDate,omitempty"`
	AccessedDate *time.Time `json:"accessedDate,omitempty"`
	Extension    string     `json:"extension"`
	IsHidden     bool       `json:"isHidden"`
	IsSystem     bool       `json:"isSystem"`
	HashValue    string     `json:"hashValue,omitempty"`
}

// OSInfo is the operating-system fingerprint recorded for a scan.
type OSInfo struct {
	ScanID          int64  `json:"scanId"`
	OSType          string `json:"osType"`
	OSName          string `json:"osName,omitempty"`
	Version         string `json:"version,omitempty"`
	BuildNumber     string `json:"buildNumber,omitempty"`
	Edition         string `json:"edition,omitempty"`
	InstallDate     string `json:"installDate,omitempty"`
	BootCapable     bool   `json:"bootCapable"`
	DetectionMethod string `json:"detectionMethod,omitempty"`
	Confidence      string `json:"confidence"`
}

// ScanStore persists scan runs and their file catalogs.
type ScanStore struct {
	db dbinterface.Querier
	tx dbinterface.TxBeginner
}

func NewScanStore(db dbinterface.Querier, tx dbinterface.TxBeginner) *ScanStore {
	return &ScanStore{db: db, tx: tx}
}

func (s *ScanStore) Create(ctx context.Context, driveID int64, mountPoint string) (*Scan, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (drive_id, mount_point, scan_start, status)
		VALUES (?, ?, ?, ?)
	`, driveID, mountPoint, now, ScanStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get scan id: %w", err)
	}

	return &Scan{
		ID:         id,
		DriveID:    driveID,
		MountPoint: mountPoint,
		ScanStart:  now,
		Status:     ScanStatusInProgress,
	}, nil
}

func (s *ScanStore) Get(ctx context.Context, id int64) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scan_id, drive_id, mount_point, scan_start, scan_end,
		       file_count, total_size_bytes, error_count, status, error_message
		FROM scans
		WHERE scan_id = ?
	`, id)

	scan, err := scanScanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	return scan, err
}

func (s *ScanStore) List(ctx context.Context, driveID int64) ([]*Scan, error) {
	query := `
		SELECT scan_id, drive_id, mount_point, scan_start, scan_end,
		       file_count, total_size_bytes, error_count, status, error_message
		FROM scans
	`
	args := []any{}
	if driveID > 0 {
		query += " WHERE drive_id = ?"
		args = append(args, driveID)
	}
	query += " ORDER BY scan_start DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []*Scan
	for rows.Next() {
		scan, err := scanScanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// InsertFilesBatch writes one batch of file entries in a single transaction.
// Commits are retried on transient lock contention so a busy reader does not
// fail the scan.
func (s *ScanStore) InsertFilesBatch(ctx context.Context, scanID int64, entries []*FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return retry.Do(
		func() error { return s.insertFilesBatchOnce(ctx, scanID, entries) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	)
}

func (s *ScanStore) insertFilesBatchOnce(ctx context.Context, scanID int64, entries []*FileEntry) error {
	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (
			scan_id, path, size_bytes, modified_date, created_date,
			accessed_date, extension, is_hidden, is_system
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			scanID, e.Path, e.SizeBytes, e.ModifiedDate, e.CreatedDate,
			e.AccessedDate, e.Extension, e.IsHidden, e.IsSystem,
		); err != nil {
			return fmt.Errorf("insert file %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Complete marks the scan complete with its final rollup.
func (s *ScanStore) Complete(ctx context.Context, scanID, fileCount, totalSize, errorCount int64) error {
	return s.finish(ctx, scanID, ScanStatusComplete, fileCount, totalSize, errorCount, "")
}

func (s *ScanStore) Fail(ctx context.Context, scanID int64, errorMessage string) error {
	return s.finishPartial(ctx, scanID, ScanStatusFailed, errorMessage)
}

func (s *ScanStore) Cancel(ctx context.Context, scanID int64) error {
	return s.finishPartial(ctx, scanID, ScanStatusCancelled, "")
}

func (s *ScanStore) finish(ctx context.Context, scanID int64, status ScanStatus, fileCount, totalSize, errorCount int64, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, scan_end = ?, file_count = ?, total_size_bytes = ?,
		    error_count = ?, error_message = ?
		WHERE scan_id = ? AND status = ?
	`, status, time.Now(), fileCount, totalSize, errorCount, nullIfEmpty(errorMessage), scanID, ScanStatusInProgress)
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	return requireAffected(res, ErrScanNotFound)
}

// finishPartial closes the scan keeping whatever rollup the committed batches
// already represent.
func (s *ScanStore) finishPartial(ctx context.Context, scanID int64, status ScanStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, scan_end = ?, error_message = ?,
		    file_count = (SELECT COUNT(*) FROM files WHERE scan_id = scans.scan_id),
		    total_size_bytes = (SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE scan_id = scans.scan_id)
		WHERE scan_id = ? AND status = ?
	`, status, time.Now(), nullIfEmpty(errorMessage), scanID, ScanStatusInProgress)
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	return requireAffected(res, ErrScanNotFound)
}

// ListFiles returns one page of the scan's file catalog ordered by path.
func (s *ScanStore) ListFiles(ctx context.Context, scanID int64, limit, offset int) ([]*FileEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, scan_id, path, size_bytes, modified_date, created_date,
		       accessed_date, extension, is_hidden, is_system, hash_value
		FROM files
		WHERE scan_id = ?
		ORDER BY path
		LIMIT ? OFFSET ?
	`, scanID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
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

func (s *ScanStore) CountFiles(ctx context.Context, scanID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE scan_id = ?", scanID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return count, nil
}

// SetFileHash records the content digest for one file entry.
func (s *ScanStore) SetFileHash(ctx context.Context, fileID int64, hash string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE files SET hash_value = ? WHERE file_id = ?", hash, fileID)
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

// SetOSInfo records the OS fingerprint for a scan, replacing any prior row.
func (s *ScanStore) SetOSInfo(ctx context.Context, info *OSInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO os_info (
			scan_id, os_type, os_name, version, build_number, edition,
			install_date, boot_capable, detection_method, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scan_id) DO UPDATE SET
			os_type = excluded.os_type,
			os_name = excluded.os_name,
			version = excluded.version,
			build_number = excluded.build_number,
			edition = excluded.edition,
			install_date = excluded.install_date,
			boot_capable = excluded.boot_capable,
			detection_method = excluded.detection_method,
			confidence = excluded.confidence
	`,
		info.ScanID, info.OSType, info.OSName, info.Version, info.BuildNumber,
		info.Edition, info.InstallDate, info.BootCapable, info.DetectionMethod,
		info.Confidence,
	)
	if err != nil {
		return fmt.Errorf("set os info: %w", err)
	}
	return nil
}

func (s *ScanStore) GetOSInfo(ctx context.Context, scanID int64) (*OSInfo, error) {
	var info OSInfo
	var osName, version, build, edition, installDate, method sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT scan_id, os_type, os_name, version, build_number, edition,
		       install_date, boot_capable, detection_method, confidence
		FROM os_info
		WHERE scan_id = ?
	`, scanID).Scan(
		&info.ScanID, &info.OSType, &osName, &version, &build, &edition,
		&installDate, &info.BootCapable, &method, &info.Confidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get os info: %w", err)
	}

	info.OSName = osName.String
	info.Version = version.String
	info.BuildNumber = build.String
	info.Edition = edition.String
	info.InstallDate = installDate.String
	info.DetectionMethod = method.String
	return &info, nil
}

func scanScanRow(scan func(dest ...any) error) (*Scan, error) {
	var s Scan
	var scanEnd sql.NullTime
	var errMsg sql.NullString

	err := scan(
		&s.ID, &s.DriveID, &s.MountPoint, &s.ScanStart, &scanEnd,
		&s.FileCount, &s.TotalSizeBytes, &s.ErrorCount, &s.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	if scanEnd.Valid {
		s.ScanEnd = &scanEnd.Time
	}
	s.ErrorMessage = errMsg.String
	return &s, nil
}

func scanFileRow(scan func(dest ...any) error) (*FileEntry, error) {
	var e FileEntry
	var modified, created, accessed sql.NullTime
	var hash sql.NullString

	err := scan(
		&e.ID, &e.ScanID, &e.Path, &e.SizeBytes, &modified, &created,
		&accessed, &e.Extension, &e.IsHidden, &e.IsSystem, &hash,
	)
	if err != nil {
		return nil, err
	}

	if modified.Valid {
		e.ModifiedDate = &modified.Time
	}
	if created.Valid {
		e.CreatedDate = &created.Time
	}
	if accessed.Valid {
		e.AccessedDate = &accessed.Time
	}
	e.HashValue = hash.String
	return &e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
