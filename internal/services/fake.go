// fake.go: In-memory service manager for tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package services

import (
	"context"
	"sync"
)

// Fake tracks installed and running services in memory.
type Fake struct {
	mu        sync.Mutex
	installed map[string]bool
	running   map[string]bool

	EnableErr  error
	DisableErr error
	RunningErr error
}

// NewFake returns a fake with the named services installed and stopped.
func NewFake(installed ...string) *Fake {
	f := &Fake{installed: make(map[string]bool), running: make(map[string]bool)}
	for _, name := range installed {
		f.installed[name] = true
	}
	return f
}

// Start marks an installed service as running.
func (f *Fake) Start(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = true
}

// IsRunning reports the in-memory state without error injection.
func (f *Fake) IsRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

func (f *Fake) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[name]
}

func (f *Fake) Running(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunningErr != nil {
		return false, f.RunningErr
	}
	return f.running[name], nil
}

func (f *Fake) Enable(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnableErr != nil {
		return f.EnableErr
	}
	f.running[name] = true
	return nil
}

func (f *Fake) Disable(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DisableErr != nil {
		return f.DisableErr
	}
	f.running[name] = false
	return nil
}

var _ Manager = (*Fake)(nil)
