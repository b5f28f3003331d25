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

	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/updatepackage"
)

// Download fetches every object whose status is Missing or Incomplete
// for the inactive bank, then re-checks that all are Ready. It is the
// only "handling download" state: AbortDownload takes it back to
// EntryPoint. spec.md §4.1.
type Download struct {
	Package *updatepackage.Package
}

// Name implements State.
func (Download) Name() string { return "download" }

// IsPreemptive implements State.
func (Download) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (Download) IsHandlingDownload() bool { return true }

// PackageUID implements reportable.
func (d Download) PackageUID() string { return d.Package.PackageUID() }

// ReportEnterStateName implements reportable.
func (Download) ReportEnterStateName() string { return "downloading" }

// ReportLeaveStateName implements reportable.
func (Download) ReportLeaveStateName() string { return "downloaded" }

// Handle implements State.
func (d Download) Handle(shared *SharedState) (State, StepTransition, error) {
	shared.LogBuffer.StartLogging()

	inactive, err := shared.ActiveInactive.Inactive()
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindInstallation, err)
	}

	descriptors := d.Package.Objects[inactive]
	dir := shared.Settings.Update.DownloadDir
	client := shared.NewCloudClient(shared.Settings.Network.ServerAddress)

	missing, err := updatepackage.FilterObjects(shared.FSBackend, dir, descriptors, object.Missing)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}
	incomplete, err := updatepackage.FilterObjects(shared.FSBackend, dir, descriptors, object.Incomplete)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}

	toFetch := append(missing, incomplete...)
	for _, o := range toFetch {
		if err := client.DownloadObject(shared.Firmware.ProductUID, d.Package.PackageUID(), dir, o.Sha256sum); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindCloudClient, err)
		}
	}

	allReady, err := updatepackage.AllReady(shared.FSBackend, dir, descriptors)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}
	if !allReady {
		return nil, StepTransition{}, NewTransitionError(KindObjectsNotReady, errors.New("not all objects are ready for use"))
	}

	return Install{Package: d.Package}, ImmediateTransition(), nil
}
