// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/drivedex/internal/dbinterface"
)

var ErrDriveNotFound = errors.New("drive not found")

// Drive represents a physical storage drive, keyed by serial number.
// A synthesized placeholder serial is used when hardware identification
// fails, so scans can proceed against unknown hardware.
type Drive struct {
	ID              int64     `json:"id"`
	SerialNumber    string    `json:"serialNumber"`
	Model           string    `json:"model,omitempty"`
	Manufacturer    string    `json:"manufacturer,omitempty"`
	SizeBytes       int64     `json:"sizeBytes"`
	Filesystem      string    `json:"filesystem,omitempty"`
	Label           string    `json:"label,omitempty"`
	ConnectionType  string    `json:"connectionType,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	MediaType       string    `json:"mediaType,omitempty"`
	BusType         string    `json:"busType,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastScanned     time.Time `json:"lastScanned"`
}

// DriveStore persists drives in the catalog store.
type DriveStore struct {
	db dbinterface.Querier
}

func NewDriveStore(db dbinterface.Querier) *DriveStore {
	return &DriveStore{db: db}
}

// Upsert inserts a drive or refreshes an existing row with the same serial
// number. Detail fields are only overwritten when the new value is non-empty,
// so a scan with degraded hardware visibility never erases known identity.
// Returns the drive id.
func (s *DriveStore) Upsert(ctx context.Context, drive *Drive) (int64, error) {
	if drive.SerialNumber == "" {
		return 0, errors.New("serial number is required")
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drives (
			serial_number, model, manufacturer, size_bytes, filesystem, label,
			connection_type, firmware_version, media_type, bus_type, notes,
			first_seen, last_scanned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (serial_number) DO UPDATE SET
			model = CASE WHEN excluded.model != '' THEN excluded.model ELSE model END,
			manufacturer = CASE WHEN excluded.manufacturer != '' THEN excluded.manufacturer ELSE manufacturer END,
			size_bytes = CASE WHEN excluded.size_bytes > 0 THEN excluded.size_bytes ELSE size_bytes END,
			filesystem = CASE WHEN excluded.filesystem != '' THEN excluded.filesystem ELSE filesystem END,
			label = CASE WHEN excluded.label != '' THEN excluded.label ELSE label END,
			connection_type = CASE WHEN excluded.connection_type != '' THEN excluded.connection_type ELSE connection_type END,
			firmware_version = CASE WHEN excluded.firmware_version != '' THEN excluded.firmware_version ELSE firmware_version END,
			media_type = CASE WHEN excluded.media_type != '' THEN excluded.media_type ELSE media_type END,
			bus_type = CASE WHEN excluded.bus_type != '' THEN excluded.bus_type ELSE bus_type END,
			notes = CASE WHEN excluded.notes != '' THEN excluded.notes ELSE notes END,
			last_scanned = excluded.last_scanned
	`,
		drive.SerialNumber, drive.Model, drive.Manufacturer, drive.SizeBytes,
		drive.Filesystem, drive.Label, drive.ConnectionType, drive.FirmwareVersion,
		drive.MediaType, drive.BusType, drive.Notes, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert drive: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"SELECT drive_id FROM drives WHERE serial_number = ?", drive.SerialNumber,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get drive id: %w", err)
	}

	drive.ID = id
	return id, nil
}

func (s *DriveStore) Get(ctx context.Context, id int64) (*Drive, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT drive_id, serial_number, model, manufacturer, size_bytes,
		       filesystem, label, connection_type, firmware_version, media_type,
		       bus_type, notes, first_seen, last_scanned
		FROM drives
		WHERE drive_id = ?
	`, id)
	return s.scanDrive(row)
}

func (s *DriveStore) GetBySerial(ctx context.Context, serial string) (*Drive, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT drive_id, serial_number, model, manufacturer, size_bytes,
		       filesystem, label, connection_type, firmware_version, media_type,
		       bus_type, notes, first_seen, last_scanned
		FROM drives
		WHERE serial_number = ?
	`, serial)
	return s.scanDrive(row)
}

func (s *DriveStore) List(ctx context.Context) ([]*Drive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT drive_id, serial_number, model, manufacturer, size_bytes,
		       filesystem, label, connection_type, firmware_version, media_type,
		       bus_type, notes, first_seen, last_scanned
		FROM drives
		ORDER BY last_scanned DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list drives: %w", err)
	}
	defer rows.Close()

	var drives []*Drive
	for rows.Next() {
		d, err := scanDriveRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		drives = append(drives, d)
	}
	return drives, rows.Err()
}

func (s *DriveStore) scanDrive(row *sql.Row) (*Drive, error) {
	d, err := scanDriveRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDriveNotFound
	}
	return d, err
}

func scanDriveRow(scan func(dest ...any) error) (*Drive, error) {
	var d Drive
	var model, manufacturer, filesystem, label, connType sql.NullString
	var firmware, mediaType, busType, notes sql.NullString
	var sizeBytes sql.NullInt64

	err := scan(
		&d.ID, &d.SerialNumber, &model, &manufacturer, &sizeBytes,
		&filesystem, &label, &connType, &firmware, &mediaType,
		&busType, &notes, &d.FirstSeen, &d.LastScanned,
	)
	if err != nil {
		return nil, err
	}

	d.Model = model.String
	d.Manufacturer = manufacturer.String
	d.SizeBytes = sizeBytes.Int64
	d.Filesystem = filesystem.String
	d.Label = label.String
	d.ConnectionType = connType.String
	d.FirmwareVersion = firmware.String
	d.MediaType = mediaType.String
	d.BusType = busType.String
	d.Notes = notes.String
	return &d, nil
}
