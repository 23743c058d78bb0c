// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/autobrr/drivedex/internal/database"
	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/duplicates"
	"github.com/autobrr/drivedex/internal/services/health"
	"github.com/autobrr/drivedex/internal/services/inspection"
	"github.com/autobrr/drivedex/internal/services/scanner"
)

// catalog bundles the stores and services every command builds on top of the
// same database handle.
type catalog struct {
	db         *database.DB
	drives     *models.DriveStore
	scans      *models.ScanStore
	sessions   *models.InspectionStore
	dups       *models.DuplicateStore
	resolver   *driveident.Resolver
	prober     *health.Prober
	scanner    *scanner.Service
	duplicates *duplicates.Service
	inspection *inspection.Service
}

func openCatalog(dbPath string) (*catalog, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("--db is required")
	}

	db, err := database.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	c := &catalog{
		db:       db,
		drives:   models.NewDriveStore(db),
		scans:    models.NewScanStore(db, db),
		sessions: models.NewInspectionStore(db, db),
		dups:     models.NewDuplicateStore(db, db),
		resolver: driveident.NewResolver(),
		prober:   health.NewProber(),
	}
	c.scanner = scanner.New(c.drives, c.scans, c.resolver)
	c.duplicates = duplicates.New(c.scans, c.dups)
	c.inspection = inspection.New(c.drives, c.scans, c.sessions, c.dups, c.scanner, c.duplicates, c.prober, c.resolver)
	return c, nil
}

func (c *catalog) Close() error {
	return c.db.Close()
}
