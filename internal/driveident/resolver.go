// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package driveident resolves the physical identity of a mounted drive so
// scans and inspection sessions attach to the right catalog row. Identity is
// keyed by serial number; when hardware queries fail a placeholder serial is
// synthesized so cataloging can proceed.
package driveident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/externalprograms"
	"github.com/autobrr/drivedex/internal/models"
)

var (
	ErrMountPointMissing    = errors.New("mount point does not exist")
	ErrMountPointNotDir     = errors.New("mount point is not a directory")
	ErrMountPointUnreadable = errors.New("mount point is not readable")
)

// Override carries operator-supplied identity that takes precedence over
// anything the hardware reports. Used for enclosures and USB bridges that
// mangle or hide the real serial.
type Override struct {
	Model  string
	Serial string
	Notes  string
}

// Identity is the resolved hardware identity of a mounted drive.
type Identity struct {
	SerialNumber   string
	Model          string
	Manufacturer   string
	SizeBytes      int64
	Filesystem     string
	Label          string
	ConnectionType string
	MediaType      string
	DevicePath     string
	Synthesized    bool
}

// Resolver queries block-device identity via lsblk.
type Resolver struct {
	// lsblkPath allows tests to substitute a fake binary.
	lsblkPath string
}

func NewResolver() *Resolver {
	return &Resolver{lsblkPath: "lsblk"}
}

// lsblk -J output. Sizes are requested in bytes (-b).
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Serial     string        `json:"serial"`
	Model      string        `json:"model"`
	Vendor     string        `json:"vendor"`
	Size       int64         `json:"size"`
	FSType     string        `json:"fstype"`
	Label      string        `json:"label"`
	MountPoint string        `json:"mountpoint"`
	Tran       string        `json:"tran"`
	Rota       bool          `json:"rota"`
	Children   []lsblkDevice `json:"children"`
}

// Resolve determines the identity of the drive backing mountPoint. A manual
// override wins verbatim over hardware values. Any hardware query failure
// degrades to a synthesized placeholder serial rather than an error, so an
// unidentifiable drive can still be cataloged.
func (r *Resolver) Resolve(ctx context.Context, mountPoint string, override *Override) *Identity {
	identity := r.queryHardware(ctx, mountPoint)

	if identity == nil {
		identity = &Identity{
			SerialNumber: fmt.Sprintf("UNKNOWN_%d", time.Now().Unix()),
			Synthesized:  true,
		}
		log.Warn().
			Str("mountPoint", mountPoint).
			Str("serial", identity.SerialNumber).
			Msg("Hardware identification failed, synthesized placeholder serial")
	}

	if override != nil {
		if override.Serial != "" {
			identity.SerialNumber = override.Serial
			identity.Synthesized = false
		}
		if override.Model != "" {
			identity.Model = override.Model
		}
	}

	return identity
}

// ToDrive converts a resolved identity into the catalog's drive shape.
func (id *Identity) ToDrive(override *Override) *models.Drive {
	drive := &models.Drive{
		SerialNumber:   id.SerialNumber,
		Model:          id.Model,
		Manufacturer:   id.Manufacturer,
		SizeBytes:      id.SizeBytes,
		Filesystem:     id.Filesystem,
		Label:          id.Label,
		ConnectionType: id.ConnectionType,
		MediaType:      id.MediaType,
	}
	if override != nil {
		drive.Notes = override.Notes
	}
	return drive
}

func (r *Resolver) queryHardware(ctx context.Context, mountPoint string) *Identity {
	result, err := externalprograms.Run(ctx, r.lsblkPath,
		"-J", "-b",
		"-o", "NAME,SERIAL,MODEL,VENDOR,SIZE,FSTYPE,LABEL,MOUNTPOINT,TRAN,ROTA",
	)
	if err != nil || result.ExitCode != 0 {
		log.Debug().Err(err).Int("exitCode", result.ExitCode).Msg("lsblk query failed")
		return nil
	}

	var output lsblkOutput
	if err := json.Unmarshal([]byte(result.Stdout), &output); err != nil {
		log.Debug().Err(err).Msg("lsblk output did not parse")
		return nil
	}

	for i := range output.BlockDevices {
		disk := &output.BlockDevices[i]
		if identity := matchDevice(disk, disk, mountPoint); identity != nil {
			return identity
		}
	}
	return nil
}

// matchDevice walks a device subtree looking for the partition mounted at
// mountPoint. Serial, model and transport come from the parent disk; the
// filesystem and label come from the mounted partition itself.
func matchDevice(disk, dev *lsblkDevice, mountPoint string) *Identity {
	if dev.MountPoint == mountPoint {
		identity := &Identity{
			SerialNumber:   strings.TrimSpace(disk.Serial),
			Model:          strings.TrimSpace(disk.Model),
			Manufacturer:   strings.TrimSpace(disk.Vendor),
			SizeBytes:      disk.Size,
			Filesystem:     dev.FSType,
			Label:          dev.Label,
			ConnectionType: disk.Tran,
			MediaType:      mediaType(disk.Rota),
			DevicePath:     "/dev/" + disk.Name,
		}
		if identity.SerialNumber == "" {
			return nil
		}
		return identity
	}

	for i := range dev.Children {
		if identity := matchDevice(disk, &dev.Children[i], mountPoint); identity != nil {
			return identity
		}
	}
	return nil
}

func mediaType(rotational bool) string {
	if rotational {
		return "hdd"
	}
	return "ssd"
}

// ValidateMountPoint checks that a path exists, is a directory, and is
// readable. It never mutates anything; it is safe to call from the API's
// validate endpoint.
func ValidateMountPoint(mountPoint string) error {
	info, err := os.Stat(mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMountPointMissing, mountPoint)
		}
		return fmt.Errorf("stat %s: %w", mountPoint, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMountPointNotDir, mountPoint)
	}

	f, err := os.Open(mountPoint)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMountPointUnreadable, mountPoint)
	}
	defer f.Close()

	// An empty directory returns io.EOF, which is fine.
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s", ErrMountPointUnreadable, mountPoint)
	}
	return nil
}
