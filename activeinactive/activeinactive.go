/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package activeinactive is the installation-set adapter: it maps
// active()/inactive()/swap()/validate() onto whatever dual-bank scheme
// a given board's bootloader implements. How "active/inactive set"
// concretely maps to bootloader environment variables is out of scope
// (spec.md §1); this package only defines the interface the core calls
// and a file-backed reference implementation used by tests and by
// boards without a real bootloader integration.
package activeinactive

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/afero"
)

// Interface is the contract the state machine and startup callbacks
// use; access to the underlying bootloader variables must be
// serialized externally, which this package does with an internal
// mutex around the reference implementation.
type Interface interface {
	// Active returns the currently booted bank (0 or 1).
	Active() (int, error)
	// Inactive returns the bank not currently booted.
	Inactive() (int, error)
	// SetActive marks bank as the one to boot next.
	SetActive(bank int) error
	// Validate marks the currently active bank as having passed its
	// post-install validation, clearing any pending-rollback marker.
	Validate() error
	// Swap flips the active bank back to whichever one was inactive,
	// used for rollback.
	Swap() error
}

// FileBackend is a reference Interface implementation that persists
// the active bank index to a single file, standing in for a real
// bootloader's environment block.
type FileBackend struct {
	fsBackend afero.Fs
	path      string
	mu        sync.Mutex
}

// NewFileBackend returns a FileBackend persisting to path, creating it
// with bank 0 active if it does not yet exist.
func NewFileBackend(fsBackend afero.Fs, path string) (*FileBackend, error) {
	fb := &FileBackend{fsBackend: fsBackend, path: path}

	exists, err := afero.Exists(fsBackend, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := fb.write(0); err != nil {
			return nil, err
		}
	}

	return fb, nil
}

func (fb *FileBackend) write(bank int) error {
	return afero.WriteFile(fb.fsBackend, fb.path, []byte(strconv.Itoa(bank)), 0o644)
}

func (fb *FileBackend) read() (int, error) {
	data, err := afero.ReadFile(fb.fsBackend, fb.path)
	if err != nil {
		return 0, err
	}

	bank, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("corrupted active bank marker: %w", err)
	}
	if bank != 0 && bank != 1 {
		return 0, fmt.Errorf("invalid active bank %d", bank)
	}

	return bank, nil
}

// Active returns the currently active bank.
func (fb *FileBackend) Active() (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.read()
}

// Inactive returns the bank not currently active.
func (fb *FileBackend) Inactive() (int, error) {
	active, err := fb.Active()
	if err != nil {
		return 0, err
	}
	return flip(active), nil
}

// SetActive marks bank active.
func (fb *FileBackend) SetActive(bank int) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if bank != 0 && bank != 1 {
		return fmt.Errorf("invalid bank %d", bank)
	}
	return fb.write(bank)
}

// Validate is a no-op for the file backend: a real bootloader
// integration would clear its own "upgrade available" flag here.
func (fb *FileBackend) Validate() error {
	return nil
}

// Swap flips the active bank, used for rollback.
func (fb *FileBackend) Swap() error {
	active, err := fb.Active()
	if err != nil {
		return err
	}
	return fb.SetActive(flip(active))
}

func flip(bank int) int {
	return (bank - 1) * -1
}
