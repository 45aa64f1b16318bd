// timezone.go: Timezone identifiers and the localtime reference
//
// The localtime reference is authoritative: a symlink into the zoneinfo
// tree, or a regular file holding a copy of the zone data. The plain
// timezone file is a best-effort mirror owned by distribution tooling and is
// only rewritten when it already exists.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"bytes"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/timedated/shellparser"
	"github.com/spf13/afero"
)

// tzifMagic starts every compiled zoneinfo file.
var tzifMagic = []byte("TZif")

// ValidTimezoneName reports whether name is syntactically a zone identifier:
// relative, without "." or ".." components, made of [A-Za-z0-9_+./-].
func ValidTimezoneName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '+' || r == '-' || r == '.' || r == '/':
		default:
			return false
		}
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// zonePath returns the zoneinfo file for name.
func zonePath(zoneinfoDir, name string) string {
	return filepath.Join(zoneinfoDir, filepath.FromSlash(name))
}

// readZone validates name and returns its compiled zone data.
func readZone(fsys afero.Fs, zoneinfoDir, name string) ([]byte, error) {
	if !ValidTimezoneName(name) {
		return nil, errors.New(ErrCodeInvalidArgument, "invalid timezone identifier").
			WithContext("timezone", name)
	}
	path := zonePath(zoneinfoDir, name)
	info, err := fsys.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errors.New(ErrCodeInvalidArgument, "unknown timezone").
			WithContext("timezone", name)
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "failed to read zoneinfo file").
			WithContext("path", path)
	}
	if !bytes.HasPrefix(data, tzifMagic) {
		return nil, errors.New(ErrCodeInvalidArgument, "not a zoneinfo file").
			WithContext("timezone", name)
	}
	return data, nil
}

// LoadLocation loads name from the zoneinfo tree at zoneinfoDir.
func LoadLocation(fsys afero.Fs, zoneinfoDir, name string) (*time.Location, error) {
	data, err := readZone(fsys, zoneinfoDir, name)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocationFromTZData(name, data)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidArgument, "invalid zoneinfo data").
			WithContext("timezone", name)
	}
	return loc, nil
}

// ListTimezones returns every zone identifier under zoneinfoDir, sorted.
// The posix/ and right/ mirrors and non-zone files are skipped.
func ListTimezones(fsys afero.Fs, zoneinfoDir string) ([]string, error) {
	var names []string
	err := afero.Walk(fsys, zoneinfoDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(zoneinfoDir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if rel == "posix" || rel == "right" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || !ValidTimezoneName(rel) || rel == "posixrules" || rel == "localtime" {
			return nil
		}
		if !hasTZifHeader(fsys, path) {
			return nil
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "failed to list timezones").
			WithContext("path", zoneinfoDir)
	}
	sort.Strings(names)
	return names, nil
}

func hasTZifHeader(fsys afero.Fs, path string) bool {
	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, len(tzifMagic))
	n, _ := f.Read(head)
	return n == len(head) && bytes.Equal(head, tzifMagic)
}

// lstat stats path without following a final symlink when fsys allows it.
func lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}

func readlink(fsys afero.Fs, path string) (string, error) {
	r, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", errors.New(ErrCodeUnsupported, "filesystem does not support symlinks")
	}
	return r.ReadlinkIfPossible(path)
}

// replaceSymlink points path at target by renaming a fresh link over it.
func replaceSymlink(fsys afero.Fs, target, path string) error {
	linker, ok := fsys.(afero.Linker)
	if !ok {
		return errors.New(ErrCodeUnsupported, "filesystem does not support symlinks")
	}
	tmp := shellparser.TempName(path)
	if err := linker.SymlinkIfPossible(target, tmp); err != nil {
		return errors.Wrap(err, ErrCodeIO, "failed to create symlink").
			WithContext("path", tmp).
			WithContext("target", target)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return errors.Wrap(err, ErrCodeIO, "failed to replace symlink").
			WithContext("path", path).
			WithContext("target", target)
	}
	return nil
}

// zoneFromLink maps a localtime symlink target to an identifier.
func zoneFromLink(linkPath, target, zoneinfoDir string) (string, bool) {
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(linkPath), target)
	}
	rel, err := filepath.Rel(filepath.Clean(zoneinfoDir), filepath.Clean(target))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, mirror := range []string{"posix/", "right/"} {
		rel = strings.TrimPrefix(rel, mirror)
	}
	return rel, ValidTimezoneName(rel)
}

// ResolveTimezone determines the configured zone. In order: the localtime
// symlink target, the plain timezone file, a zone whose data matches a
// regular localtime file, and finally "UTC".
func ResolveTimezone(fsys afero.Fs, cfg *Config) string {
	if info, err := lstat(fsys, cfg.LocaltimeFile); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if target, err := readlink(fsys, cfg.LocaltimeFile); err == nil {
				if name, ok := zoneFromLink(cfg.LocaltimeFile, target, cfg.ZoneinfoDir); ok {
					return name
				}
			}
		}
	}

	if data, err := afero.ReadFile(fsys, cfg.TimezoneFile); err == nil {
		name := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
		if ValidTimezoneName(name) {
			return name
		}
	}

	if data, err := afero.ReadFile(fsys, cfg.LocaltimeFile); err == nil && bytes.HasPrefix(data, tzifMagic) {
		if name := matchZoneData(fsys, cfg.ZoneinfoDir, data); name != "" {
			return name
		}
	}

	return "UTC"
}

// matchZoneData finds a zone whose file content equals data.
func matchZoneData(fsys afero.Fs, zoneinfoDir string, data []byte) string {
	names, err := ListTimezones(fsys, zoneinfoDir)
	if err != nil {
		return ""
	}
	for _, name := range names {
		candidate, err := afero.ReadFile(fsys, zonePath(zoneinfoDir, name))
		if err == nil && bytes.Equal(candidate, data) {
			return name
		}
	}
	return ""
}

// writeTimezoneFile mirrors name into the plain timezone file, only if that
// file exists.
func writeTimezoneFile(fsys afero.Fs, path, name string, logger *slog.Logger) error {
	if _, err := fsys.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, ErrCodeIO, "failed to stat timezone file").
			WithContext("path", path)
	}
	if err := shellparser.WriteFileAtomic(fsys, path, []byte(name+"\n"), logger); err != nil {
		return errors.Wrap(err, ErrCodeIO, "failed to write timezone file").
			WithContext("path", path)
	}
	return nil
}

// updateLocaltime points the localtime reference at name. A symlink is
// replaced by a new symlink, a regular file gets the zone data copied in,
// and a missing reference becomes a symlink.
func updateLocaltime(fsys afero.Fs, cfg *Config, name string, logger *slog.Logger) error {
	data, err := readZone(fsys, cfg.ZoneinfoDir, name)
	if err != nil {
		return err
	}
	target := zonePath(cfg.ZoneinfoDir, name)

	info, err := lstat(fsys, cfg.LocaltimeFile)
	switch {
	case err != nil && os.IsNotExist(err):
		return replaceSymlink(fsys, target, cfg.LocaltimeFile)
	case err != nil:
		return errors.Wrap(err, ErrCodeIO, "failed to stat localtime").
			WithContext("path", cfg.LocaltimeFile)
	case info.Mode()&os.ModeSymlink != 0:
		return replaceSymlink(fsys, target, cfg.LocaltimeFile)
	case info.Mode().IsRegular():
		if err := shellparser.WriteFileAtomic(fsys, cfg.LocaltimeFile, data, logger); err != nil {
			return errors.Wrap(err, ErrCodeIO, "failed to write localtime").
				WithContext("path", cfg.LocaltimeFile)
		}
		return nil
	default:
		return errors.New(ErrCodeIO, "localtime is neither a symlink nor a regular file").
			WithContext("path", cfg.LocaltimeFile)
	}
}

// ensureRTCZoneLink makes the RTC zone link point at name, creating it when
// missing. An existing non-symlink at that path is an error.
func ensureRTCZoneLink(fsys afero.Fs, path, name string) error {
	info, err := lstat(fsys, path)
	switch {
	case err != nil && os.IsNotExist(err):
		if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Wrap(err, ErrCodeIO, "failed to create RTC zone link directory").
				WithContext("path", path)
		}
		return replaceSymlink(fsys, name, path)
	case err != nil:
		return errors.Wrap(err, ErrCodeIO, "failed to stat RTC zone link").
			WithContext("path", path)
	case info.Mode()&os.ModeSymlink == 0:
		return errors.New(ErrCodeIO, "RTC zone link is not a symlink").
			WithContext("path", path)
	}

	current, err := readlink(fsys, path)
	if err != nil {
		return errors.Wrap(err, ErrCodeIO, "unable to read RTC zone link").
			WithContext("path", path)
	}
	if current == name {
		return nil
	}
	return replaceSymlink(fsys, name, path)
}
