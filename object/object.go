/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package object defines the per-object contract installers must
// satisfy (status/sha256sum/check_requirements/setup/install/cleanup)
// and the status-classification algorithm used to decide whether an
// object needs downloading. Concrete installer kinds (flash, raw,
// tarball, ubifs, imxkobs) are out of scope; this package ships only
// the "copy" kind as a reference implementation and a pluggable
// Registry for the rest.
package object

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/utils"
)

// Status classifies a downloaded object against its expected sha256sum
// and size.
type Status int

const (
	// Missing means the object's file does not exist in the download
	// directory.
	Missing Status = iota
	// Incomplete means the file exists but is shorter than expected.
	Incomplete
	// Ready means the file is present, full-size, and its sha256sum
	// matches.
	Ready
	// Corrupted means the file is full-size (or larger) but its
	// sha256sum does not match, or it overshoots the expected size.
	Corrupted
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Incomplete:
		return "incomplete"
	case Ready:
		return "ready"
	case Corrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Descriptor is the parsed, data-only representation of one object
// entry inside an update package's object list.
type Descriptor struct {
	Filename    string
	Sha256sum   string
	Size        int64
	InstallMode string

	// Mode-specific fields, filled from the package's object entry;
	// only the ones relevant to InstallMode are used by its installer.
	TargetType string
	Target     string
	Filesystem string
	TargetPath string
	Flags      string
}

// ComputeStatus implements spec.md §4.4's classification algorithm
// against the file named d.Sha256sum inside dir.
func ComputeStatus(fsBackend afero.Fs, dir string, d Descriptor) (Status, error) {
	path := filepath.Join(dir, d.Sha256sum)

	info, err := fsBackend.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return Missing, err
	}

	switch {
	case info.Size() < d.Size:
		return Incomplete, nil
	case info.Size() > d.Size:
		return Corrupted, nil
	}

	sum, err := utils.FileSha256sum(fsBackend, path)
	if err != nil {
		return Missing, err
	}

	if sum != d.Sha256sum {
		return Corrupted, nil
	}

	return Ready, nil
}

// Object is the behavioral contract an object kind implements, matched
// 1:1 to spec.md §4.1's Install state ("check_requirements, setup,
// install, cleanup").
type Object interface {
	Descriptor() Descriptor
	CheckRequirements() error
	Setup() error
	Install(downloadDir string) error
	Cleanup() error
}

// Constructor builds an Object for a given Descriptor, using fsBackend
// for any filesystem work the install mode requires.
type Constructor func(fsBackend afero.Fs, d Descriptor) (Object, error)

// Registry maps an install-mode string to the Constructor that handles
// it, the seam where out-of-scope installer kinds plug in.
type Registry map[string]Constructor

// NewRegistry returns a Registry pre-populated with the "copy" mode;
// callers register additional modes (flash, raw, tarball, ubifs,
// imxkobs) before running Install.
func NewRegistry() Registry {
	return Registry{
		"copy": NewCopyObject,
	}
}

// Build looks up d.InstallMode in the registry and constructs the
// corresponding Object.
func (r Registry) Build(fsBackend afero.Fs, d Descriptor) (Object, error) {
	ctor, ok := r[d.InstallMode]
	if !ok {
		return nil, fmt.Errorf("unsupported install mode %q", d.InstallMode)
	}
	return ctor(fsBackend, d)
}
