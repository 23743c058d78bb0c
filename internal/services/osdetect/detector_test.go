// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package osdetect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(p)), 0o755))
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectWindowsHighConfidence(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Windows/System32", "Windows/WinSxS", "Program Files/WindowsApps", "Users")

	report := Detect(root)
	assert.True(t, report.Detected)
	assert.Equal(t, "windows", report.OSType)
	assert.Equal(t, ConfidenceHigh, report.Confidence)
	assert.True(t, report.BootCapable)
	assert.Equal(t, "Windows 10/11", report.Edition)
	assert.Equal(t, "windows_system32", report.DetectionMethod)
}

func TestDetectWindowsFolderOnlyIsMedium(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Windows")

	report := Detect(root)
	assert.True(t, report.Detected)
	assert.Equal(t, ConfidenceMedium, report.Confidence)
	assert.False(t, report.BootCapable)
}

func TestDetectLegacyWinNT(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "WINNT")

	report := Detect(root)
	assert.Equal(t, "windows", report.OSType)
	assert.Equal(t, ConfidenceMedium, report.Confidence)
	assert.Equal(t, "winnt_folder", report.DetectionMethod)
}

func TestDetectLinuxOSRelease(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "etc/os-release", `NAME="Ubuntu"
VERSION_ID="22.04"
PRETTY_NAME="Ubuntu 22.04.3 LTS"
`)
	writeFile(t, root, "boot/vmlinuz-5.15.0-86-generic", "kernel")

	report := Detect(root)
	assert.True(t, report.Detected)
	assert.Equal(t, "linux", report.OSType)
	assert.Equal(t, "Ubuntu 22.04.3 LTS", report.OSName)
	assert.Equal(t, "22.04", report.Version)
	assert.Equal(t, ConfidenceHigh, report.Confidence)
	assert.True(t, report.BootCapable)
}

func TestDetectLinuxLSBFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "etc/lsb-release", `DISTRIB_ID=Mint
DISTRIB_RELEASE=21
DISTRIB_DESCRIPTION="Linux Mint 21"
`)

	report := Detect(root)
	assert.Equal(t, "Linux Mint 21", report.OSName)
	assert.Equal(t, ConfidenceMedium, report.Confidence)
	assert.False(t, report.BootCapable)
}

func TestDetectLinuxLayoutOnlyIsLow(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "etc", "usr/bin", "home")

	report := Detect(root)
	assert.Equal(t, "linux", report.OSType)
	assert.Equal(t, ConfidenceLow, report.Confidence)
}

func TestDetectMacOS(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "System/Library/CoreServices/SystemVersion.plist", `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>ProductBuildVersion</key>
	<string>23B74</string>
	<key>ProductName</key>
	<string>macOS</string>
	<key>ProductVersion</key>
	<string>14.1.1</string>
</dict>
</plist>
`)

	report := Detect(root)
	assert.True(t, report.Detected)
	assert.Equal(t, "macos", report.OSType)
	assert.Equal(t, "14.1.1", report.Version)
	assert.Equal(t, "23B74", report.BuildNumber)
	assert.Equal(t, ConfidenceHigh, report.Confidence)
}

func TestDetectEstimatesInstallDateFromMarkers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "etc/os-release", `PRETTY_NAME="Debian GNU/Linux 12"
`)
	writeFile(t, root, "etc/machine-id", "cafe0123\n")

	installed := time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "etc", "machine-id"), installed, installed))

	report := Detect(root)
	assert.Equal(t, installed.Local().Format("2006-01-02"), report.InstallDate)
}

func TestDetectInstallDateEmptyWithoutMarkers(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "etc", "usr/bin")

	report := Detect(root)
	assert.True(t, report.Detected)
	assert.Empty(t, report.InstallDate)
}

func TestDetectEmptyTreeIsUnknown(t *testing.T) {
	report := Detect(t.TempDir())
	assert.False(t, report.Detected)
	assert.Equal(t, "unknown", report.OSType)
	assert.Equal(t, ConfidenceUnknown, report.Confidence)
}
