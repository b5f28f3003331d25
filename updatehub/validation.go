/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"errors"

	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/updatepackage"
)

// Validation runs the signature, hardware-compatibility, and
// already-installed checks spec.md §4.1 requires before any
// destructive action is allowed to proceed.
type Validation struct {
	Package   *updatepackage.Package
	Signature *updatepackage.Signature
}

// Name implements State.
func (Validation) Name() string { return "validation" }

// IsPreemptive implements State.
func (Validation) IsPreemptive() bool { return false }

// IsHandlingDownload implements State.
func (Validation) IsHandlingDownload() bool { return false }

// Handle implements State.
func (v Validation) Handle(shared *SharedState) (State, StepTransition, error) {
	if shared.RequireSignedUpdates {
		if v.Signature == nil {
			return nil, StepTransition{}, NewTransitionError(KindSignatureNotFound, errors.New("update requires a signature but none was provided"))
		}
		if err := v.Signature.Verify(v.Package, shared.PublicKeyPEM); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInvalidSignature, err)
		}
	}

	if !metadata.SupportsHardware(v.Package.SupportedHardware, shared.Firmware.Hardware) {
		return nil, StepTransition{}, NewTransitionError(KindIncompatibleHardware, errors.New(
			"firmware hardware "+shared.Firmware.Hardware+" is not in the package's supported-hardware set"))
	}

	if shared.RuntimeSettings.AppliedPackageUID == v.Package.PackageUID() {
		return EntryPoint{}, ImmediateTransition(), nil
	}

	return PrepareDownload{Package: v.Package}, ImmediateTransition(), nil
}
