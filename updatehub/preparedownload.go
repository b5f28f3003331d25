/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/updatepackage"
)

// PrepareDownload picks the inactive bank and prunes leftovers from
// previous installations before Download runs. spec.md §4.1.
type PrepareDownload struct {
	Package *updatepackage.Package
}

// Name implements State.
func (PrepareDownload) Name() string { return "prepare_download" }

// IsPreemptive implements State.
func (PrepareDownload) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (PrepareDownload) IsHandlingDownload() bool { return false }

// Handle implements State.
func (p PrepareDownload) Handle(shared *SharedState) (State, StepTransition, error) {
	inactive, err := shared.ActiveInactive.Inactive()
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
	}

	descriptors := p.Package.Objects[inactive]
	dir := shared.Settings.Update.DownloadDir

	if err := pruneUnknownFiles(shared.FSBackend, dir, descriptors); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}

	corrupted, err := updatepackage.FilterObjects(shared.FSBackend, dir, descriptors, object.Corrupted)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}
	for _, d := range corrupted {
		if err := shared.FSBackend.Remove(filepath.Join(dir, d.Sha256sum)); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindIO, err)
		}
	}

	return Download{Package: p.Package}, ImmediateTransition(), nil
}

// pruneUnknownFiles deletes every regular file in dir whose name is
// not the sha256sum of one of descriptors, the "walk and delete
// leftovers" step of spec.md §4.1's PrepareDownload.
func pruneUnknownFiles(fsBackend afero.Fs, dir string, descriptors []object.Descriptor) error {
	known := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		known[d.Sha256sum] = true
	}

	entries, err := afero.ReadDir(fsBackend, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if known[entry.Name()] {
			continue
		}
		if err := fsBackend.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}
