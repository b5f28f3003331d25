/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/updatepackage"
)

// PrepareLocalInstall treats a local archive (a plain update-package
// manifest, since object installer kinds that unpack real archives are
// out of scope per spec.md §1) as if it had been probed, handing it to
// Validation the same way Probe does for a remote update. spec.md
// §4.1.
type PrepareLocalInstall struct {
	Path string
}

// Name implements State.
func (PrepareLocalInstall) Name() string { return "prepare_local_install" }

// IsPreemptive implements State.
func (PrepareLocalInstall) IsPreemptive() bool { return false }

// IsHandlingDownload implements State.
func (PrepareLocalInstall) IsHandlingDownload() bool { return false }

// Handle implements State.
func (p PrepareLocalInstall) Handle(shared *SharedState) (State, StepTransition, error) {
	raw, err := afero.ReadFile(shared.FSBackend, p.Path)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}

	pkg, err := updatepackage.Parse(raw)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindUpdatePackage, err)
	}

	return Validation{Package: pkg}, ImmediateTransition(), nil
}
