// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package driveident

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLsblk writes a script that emits canned lsblk JSON.
func fakeLsblk(t *testing.T, payload string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture is unix-only")
	}

	path := filepath.Join(t.TempDir(), "lsblk")
	script := "#!/bin/sh\ncat <<'JSON'\n" + payload + "\nJSON\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const lsblkFixture = `{
  "blockdevices": [
    {
      "name": "sdb",
      "serial": "WD-WX11A123",
      "model": "WDC WD40EFRX",
      "vendor": "ATA     ",
      "size": 4000787030016,
      "tran": "sata",
      "rota": true,
      "mountpoint": null,
      "children": [
        {"name": "sdb1", "size": 4000785104896, "fstype": "ext4", "label": "archive", "mountpoint": "/mnt/archive"}
      ]
    }
  ]
}`

func TestResolveFromHardware(t *testing.T) {
	r := &Resolver{lsblkPath: fakeLsblk(t, lsblkFixture)}

	identity := r.Resolve(context.Background(), "/mnt/archive", nil)
	require.NotNil(t, identity)
	assert.False(t, identity.Synthesized)
	assert.Equal(t, "WD-WX11A123", identity.SerialNumber)
	assert.Equal(t, "WDC WD40EFRX", identity.Model)
	assert.Equal(t, "ATA", identity.Manufacturer)
	assert.Equal(t, int64(4000787030016), identity.SizeBytes)
	assert.Equal(t, "ext4", identity.Filesystem)
	assert.Equal(t, "archive", identity.Label)
	assert.Equal(t, "sata", identity.ConnectionType)
	assert.Equal(t, "hdd", identity.MediaType)
	assert.Equal(t, "/dev/sdb", identity.DevicePath)
}

func TestResolveSynthesizesOnUnknownMount(t *testing.T) {
	r := &Resolver{lsblkPath: fakeLsblk(t, lsblkFixture)}

	identity := r.Resolve(context.Background(), "/mnt/not-mounted", nil)
	require.NotNil(t, identity)
	assert.True(t, identity.Synthesized)
	assert.True(t, strings.HasPrefix(identity.SerialNumber, "UNKNOWN_"))
}

func TestResolveSynthesizesWhenLsblkMissing(t *testing.T) {
	r := &Resolver{lsblkPath: "no-such-lsblk-binary"}

	identity := r.Resolve(context.Background(), "/mnt/archive", nil)
	require.NotNil(t, identity)
	assert.True(t, identity.Synthesized)
}

func TestResolveOverrideWins(t *testing.T) {
	r := &Resolver{lsblkPath: fakeLsblk(t, lsblkFixture)}

	identity := r.Resolve(context.Background(), "/mnt/archive", &Override{
		Serial: "CUSTOM-001",
		Model:  "Enclosure Drive",
	})
	require.NotNil(t, identity)
	assert.Equal(t, "CUSTOM-001", identity.SerialNumber)
	assert.Equal(t, "Enclosure Drive", identity.Model)
	// Hardware values without overrides are kept.
	assert.Equal(t, "ext4", identity.Filesystem)
}

func TestValidateMountPoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0o644))

	assert.NoError(t, ValidateMountPoint(dir))
	assert.NoError(t, ValidateMountPoint(t.TempDir())) // empty dir is fine

	err := ValidateMountPoint(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrMountPointMissing)

	err = ValidateMountPoint(filepath.Join(dir, "x"))
	assert.ErrorIs(t, err, ErrMountPointNotDir)
}
