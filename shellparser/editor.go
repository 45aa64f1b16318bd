// editor.go: Configuration editor with atomic save
//
// Parser owns the entry sequence of one file. Edits mutate the sequence in
// place; Save writes the whole sequence to a temporary file in the target
// directory and renames it over the original.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/spf13/afero"
)

// defaultPerm is used when the backing file does not exist yet.
const defaultPerm os.FileMode = 0644

// tmpSeq disambiguates temp files created within one cached tick.
var tmpSeq atomic.Uint64

// Parser holds a parsed configuration file.
type Parser struct {
	fs      afero.Fs
	path    string
	entries []Entry
	logger  *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithFs sets the filesystem used for load and save. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(p *Parser) { p.fs = fs }
}

// WithPath binds a buffer-backed parser to a file for Save.
func WithPath(path string) Option {
	return func(p *Parser) { p.path = path }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

func newParser(opts []Option) *Parser {
	p := &Parser{fs: afero.NewOsFs(), logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads path fully and parses it.
func Load(path string, opts ...Option) (*Parser, error) {
	p := newParser(opts)
	p.path = path

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "failed to read configuration file").
			WithContext("path", path)
	}

	entries, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeParse, "failed to parse configuration file").
			WithContext("path", path)
	}
	p.entries = entries
	return p, nil
}

// NewFromBuffer parses buf without touching the filesystem. Use WithPath to
// make the result saveable.
func NewFromBuffer(buf []byte, opts ...Option) (*Parser, error) {
	p := newParser(opts)
	entries, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	p.entries = entries
	return p, nil
}

// Path returns the backing file path, if any.
func (p *Parser) Path() string {
	return p.path
}

// Entries returns a copy of the entry sequence.
func (p *Parser) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Bytes returns the serialized file content.
func (p *Parser) Bytes() []byte {
	return Serialize(p.entries)
}

// IsEmpty reports whether the file holds no assignments.
func (p *Parser) IsEmpty() bool {
	for i := range p.entries {
		if p.entries[i].Kind == Assignment {
			return false
		}
	}
	return true
}

// Get returns the literal value of the last assignment to name.
func (p *Parser) Get(name string) (string, bool) {
	if i := Find(p.entries, name); i >= 0 {
		return p.entries[i].Value, true
	}
	return "", false
}

// Names returns assigned variable names in order of last assignment.
func (p *Parser) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for i := range p.entries {
		if p.entries[i].Kind != Assignment {
			continue
		}
		name := p.entries[i].Name
		if Find(p.entries, name) == i && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// SetVariable updates the last assignment to name. When there is none a new
// assignment is appended only if addIfUnset is true. It reports whether the
// sequence changed.
func (p *Parser) SetVariable(name, value string, addIfUnset bool) bool {
	if i := Find(p.entries, name); i >= 0 {
		if p.entries[i].Value == value {
			return false
		}
		p.entries[i].setValue(value)
		return true
	}
	if !addIfUnset {
		return false
	}
	p.appendEntry(newAssignment(name, value))
	return true
}

// ClearVariable removes every assignment to name.
func (p *Parser) ClearVariable(name string) bool {
	kept := p.entries[:0]
	removed := false
	for _, e := range p.entries {
		if e.Kind == Assignment && e.Name == name {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	return removed
}

func (p *Parser) appendEntry(e Entry) {
	if n := len(p.entries); n > 0 && !p.entries[n-1].newline {
		p.entries[n-1].newline = true
	}
	p.entries = append(p.entries, e)
}

// Save writes the sequence atomically to the backing path. The original
// file mode is kept; failing to apply it is logged and does not abort the
// write.
func (p *Parser) Save() error {
	if p.path == "" {
		return errors.New(ErrCodeIO, "parser has no backing file")
	}
	return WriteFileAtomic(p.fs, p.path, Serialize(p.entries), p.logger)
}

// WriteFileAtomic writes data to a temp file in the directory of path, then
// renames it over path. The existing mode is kept, or 0644 for a new file;
// failing to apply the mode is logged and does not abort the write. The temp
// file is removed on any failure.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	perm := defaultPerm
	if info, err := fs.Stat(path); err == nil {
		perm = info.Mode().Perm()
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeIO, "failed to stat configuration file").
			WithContext("path", path)
	}

	tmp := TempName(path)

	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return errors.Wrap(err, ErrCodeIO, "failed to create temporary file").
			WithContext("path", tmp)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return errors.Wrap(err, ErrCodeIO, "failed to write temporary file").
			WithContext("path", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return errors.Wrap(err, ErrCodeIO, "failed to sync temporary file").
			WithContext("path", tmp)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrap(err, ErrCodeIO, "failed to close temporary file").
			WithContext("path", tmp)
	}

	if err := fs.Chmod(tmp, perm); err != nil {
		logger.Warn("could not set permissions on configuration file",
			"path", path, "mode", perm.String(), "error", err)
	}

	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrap(err, ErrCodeIO, "failed to replace configuration file").
			WithContext("path", path)
	}
	return nil
}

// TempName returns a hidden sibling of path for staging a replacement.
func TempName(path string) string {
	return filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.tmp.%d.%d", filepath.Base(path), timecache.CachedTimeNano(), tmpSeq.Add(1)))
}

// Update is one variable assignment applied by SetAndSave. AltName, when
// set, names a legacy spelling that is updated in place if Name is absent.
type Update struct {
	Name    string
	AltName string
	Value   string
}

func (u Update) validate() error {
	if !ValidName(u.Name) {
		return errors.New(ErrCodeInvalidName, "invalid variable name").
			WithContext("name", u.Name)
	}
	if u.AltName != "" && !ValidName(u.AltName) {
		return errors.New(ErrCodeInvalidName, "invalid alternate variable name").
			WithContext("name", u.AltName)
	}
	if strings.IndexByte(u.Value, 0) >= 0 {
		return errors.New(ErrCodeInvalidValue, "value contains a NUL byte").
			WithContext("name", u.Name)
	}
	return nil
}

// SetAndSave applies updates to the file at path and saves once. A missing
// file is created. Nothing is written unless every update is valid.
func SetAndSave(path string, updates []Update, opts ...Option) error {
	for _, u := range updates {
		if err := u.validate(); err != nil {
			return err
		}
	}

	p, err := Load(path, opts...)
	if err != nil {
		if Code(err) != ErrCodeIO {
			return err
		}
		probe := newParser(opts)
		if _, statErr := probe.fs.Stat(path); !os.IsNotExist(statErr) {
			return err
		}
		p = probe
		p.path = path
	}

	for _, u := range updates {
		switch {
		case Find(p.entries, u.Name) >= 0:
			p.SetVariable(u.Name, u.Value, false)
		case u.AltName != "" && Find(p.entries, u.AltName) >= 0:
			p.SetVariable(u.AltName, u.Value, false)
		default:
			p.SetVariable(u.Name, u.Value, true)
		}
	}

	return p.Save()
}
