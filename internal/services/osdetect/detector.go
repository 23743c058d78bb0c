// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package osdetect fingerprints the operating system installed on a mounted
// drive by probing well-known marker paths. Detection is purely passive reads
// and never errors: a tree with no markers reports UNKNOWN.
package osdetect

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/models"
)

const (
	ConfidenceHigh    = "HIGH"
	ConfidenceMedium  = "MEDIUM"
	ConfidenceLow     = "LOW"
	ConfidenceUnknown = "UNKNOWN"
)

// Detect inspects the tree under mountPoint and returns the best fingerprint
// it can justify. Families are checked in order of marker specificity;
// the first match wins.
func Detect(mountPoint string) *models.OSReport {
	checks := []func(string) *models.OSReport{
		detectWindows,
		detectLinux,
		detectMacOS,
	}
	for _, check := range checks {
		if report := check(mountPoint); report != nil {
			report.InstallDate = estimateInstallDate(mountPoint, report.OSType)
			log.Debug().
				Str("mountPoint", mountPoint).
				Str("osType", report.OSType).
				Str("confidence", report.Confidence).
				Msg("OS fingerprint matched")
			return report
		}
	}

	return &models.OSReport{
		Detected:   false,
		OSType:     "unknown",
		Confidence: ConfidenceUnknown,
	}
}

func detectWindows(root string) *models.OSReport {
	switch {
	case isDir(root, "Windows", "System32"):
		report := &models.OSReport{
			Detected:        true,
			OSType:          "windows",
			OSName:          "Microsoft Windows",
			BootCapable:     true,
			DetectionMethod: "windows_system32",
			Confidence:      ConfidenceHigh,
		}
		// Newer installs carry these refinement markers.
		if isDir(root, "Windows", "WinSxS") {
			report.Edition = windowsEdition(root)
		}
		return report

	case isDir(root, "Windows"):
		return &models.OSReport{
			Detected:        true,
			OSType:          "windows",
			OSName:          "Microsoft Windows",
			DetectionMethod: "windows_folder",
			Confidence:      ConfidenceMedium,
		}

	case isDir(root, "WINNT"):
		return &models.OSReport{
			Detected:        true,
			OSType:          "windows",
			OSName:          "Microsoft Windows (legacy)",
			DetectionMethod: "winnt_folder",
			Confidence:      ConfidenceMedium,
		}

	case isDir(root, "Documents and Settings"):
		return &models.OSReport{
			Detected:        true,
			OSType:          "windows",
			OSName:          "Microsoft Windows",
			DetectionMethod: "profile_folder",
			Confidence:      ConfidenceLow,
		}
	}
	return nil
}

// windowsEdition guesses the consumer edition from program-data markers. Best
// effort only; registry hives are not parsed.
func windowsEdition(root string) string {
	if isDir(root, "Program Files", "WindowsApps") {
		return "Windows 10/11"
	}
	return ""
}

func detectLinux(root string) *models.OSReport {
	if report := parseOSRelease(filepath.Join(root, "etc", "os-release")); report != nil {
		report.BootCapable = linuxBootCapable(root)
		return report
	}
	if report := parseLSBRelease(filepath.Join(root, "etc", "lsb-release")); report != nil {
		report.BootCapable = linuxBootCapable(root)
		return report
	}

	if isDir(root, "etc") && (isDir(root, "bin") || isDir(root, "usr", "bin")) {
		return &models.OSReport{
			Detected:        true,
			OSType:          "linux",
			OSName:          "Linux",
			BootCapable:     linuxBootCapable(root),
			DetectionMethod: "fs_layout",
			Confidence:      ConfidenceLow,
		}
	}
	return nil
}

func parseOSRelease(path string) *models.OSReport {
	fields, err := parseKeyValueFile(path)
	if err != nil {
		return nil
	}

	name := fields["PRETTY_NAME"]
	if name == "" {
		name = fields["NAME"]
	}
	if name == "" {
		return nil
	}

	return &models.OSReport{
		Detected:        true,
		OSType:          "linux",
		OSName:          name,
		Version:         fields["VERSION_ID"],
		DetectionMethod: "os_release",
		Confidence:      ConfidenceHigh,
	}
}

func parseLSBRelease(path string) *models.OSReport {
	fields, err := parseKeyValueFile(path)
	if err != nil {
		return nil
	}

	name := fields["DISTRIB_DESCRIPTION"]
	if name == "" {
		name = fields["DISTRIB_ID"]
	}
	if name == "" {
		return nil
	}

	return &models.OSReport{
		Detected:        true,
		OSType:          "linux",
		OSName:          name,
		Version:         fields["DISTRIB_RELEASE"],
		DetectionMethod: "lsb_release",
		Confidence:      ConfidenceMedium,
	}
}

func linuxBootCapable(root string) bool {
	matches, err := filepath.Glob(filepath.Join(root, "boot", "vmlinuz*"))
	if err == nil && len(matches) > 0 {
		return true
	}
	return isDir(root, "boot", "grub") || isDir(root, "boot", "grub2")
}

var plistKeyRe = regexp.MustCompile(`<key>(ProductName|ProductUserVisibleVersion|ProductVersion|ProductBuildVersion)</key>\s*<string>([^<]*)</string>`)

func detectMacOS(root string) *models.OSReport {
	path := filepath.Join(root, "System", "Library", "CoreServices", "SystemVersion.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	fields := map[string]string{}
	for _, m := range plistKeyRe.FindAllStringSubmatch(string(data), -1) {
		fields[m[1]] = m[2]
	}

	name := fields["ProductName"]
	if name == "" {
		name = "macOS"
	}
	version := fields["ProductUserVisibleVersion"]
	if version == "" {
		version = fields["ProductVersion"]
	}

	return &models.OSReport{
		Detected:        true,
		OSType:          "macos",
		OSName:          name,
		Version:         version,
		BuildNumber:     fields["ProductBuildVersion"],
		BootCapable:     isDir(root, "System", "Library", "Kernels") || version != "",
		DetectionMethod: "system_version_plist",
		Confidence:      ConfidenceHigh,
	}
}

// installMarkers are artifacts written once at OS install time and rarely
// touched afterwards, per family. Their mtime approximates the install date;
// registry hives and package logs are not parsed.
var installMarkers = map[string][][]string{
	"windows": {
		{"Windows", "System32", "config"},
		{"Windows"},
		{"WINNT"},
	},
	"linux": {
		{"etc", "machine-id"},
		{"etc", "fstab"},
	},
	"macos": {
		{"var", "db", ".AppleSetupDone"},
		{"System", "Library", "CoreServices", "SystemVersion.plist"},
	},
}

func estimateInstallDate(root, osType string) string {
	for _, parts := range installMarkers[osType] {
		info, err := os.Stat(filepath.Join(append([]string{root}, parts...)...))
		if err != nil {
			continue
		}
		return info.ModTime().Format("2006-01-02")
	}
	return ""
}

// parseKeyValueFile reads KEY=value lines, stripping quotes and comments.
func parseKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return fields, s.Err()
}

func isDir(parts ...string) bool {
	info, err := os.Stat(filepath.Join(parts...))
	return err == nil && info.IsDir()
}
