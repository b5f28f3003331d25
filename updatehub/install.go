/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"github.com/OSSystems/updatehub/updatepackage"
)

// Install runs check_requirements/setup/install/cleanup for every
// object in the inactive bank, then marks the installation applied
// and flips the active bank. Any failure is fatal. spec.md §4.1.
type Install struct {
	Package *updatepackage.Package
}

// Name implements State.
func (Install) Name() string { return "install" }

// IsPreemptive implements State.
func (Install) IsPreemptive() bool { return false }

// IsHandlingDownload implements State.
func (Install) IsHandlingDownload() bool { return false }

// PackageUID implements reportable.
func (i Install) PackageUID() string { return i.Package.PackageUID() }

// ReportEnterStateName implements reportable.
func (Install) ReportEnterStateName() string { return "installing" }

// ReportLeaveStateName implements reportable.
func (Install) ReportLeaveStateName() string { return "installed" }

// Handle implements State.
func (i Install) Handle(shared *SharedState) (State, StepTransition, error) {
	inactive, err := shared.ActiveInactive.Inactive()
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
	}

	dir := shared.Settings.Update.DownloadDir

	for _, d := range i.Package.Objects[inactive] {
		obj, err := shared.Registry.Build(shared.FSBackend, d)
		if err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
		}

		if err := obj.CheckRequirements(); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
		}
		if err := obj.Setup(); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
		}
		if err := obj.Install(dir); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
		}
		if err := obj.Cleanup(); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
		}
	}

	if err := shared.RuntimeSettings.SetAppliedPackageUID(i.Package.PackageUID()); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
	}
	if err := shared.RuntimeSettings.SetUpgradeToInstallation(inactive); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
	}
	if err := shared.ActiveInactive.SetActive(inactive); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
	}

	shared.LogBuffer.StopLogging()

	return Reboot{Package: i.Package}, ImmediateTransition(), nil
}
