/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"github.com/OSSystems/pkg/log"

	"github.com/OSSystems/updatehub/updatepackage"
)

// Reboot invokes the platform reboot command. On a real device the
// process is terminated by the kernel before this returns; returning
// (EntryPoint, Immediate) only happens in test mode, where the
// "reboot" command on PATH is a harmless stub. spec.md §4.1.
type Reboot struct {
	Package *updatepackage.Package
}

// Name implements State.
func (Reboot) Name() string { return "reboot" }

// IsPreemptive implements State.
func (Reboot) IsPreemptive() bool { return false }

// IsHandlingDownload implements State.
func (Reboot) IsHandlingDownload() bool { return false }

// PackageUID implements reportable.
func (r Reboot) PackageUID() string { return r.Package.PackageUID() }

// ReportEnterStateName implements reportable.
func (Reboot) ReportEnterStateName() string { return "rebooting" }

// ReportLeaveStateName implements reportable.
func (Reboot) ReportLeaveStateName() string { return "rebooted" }

// Handle implements State.
func (r Reboot) Handle(shared *SharedState) (State, StepTransition, error) {
	log.Info("triggering reboot")

	stdout, stderr, err := runReboot()
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindProcess, err)
	}

	if stdout != "" || stderr != "" {
		log.WithFields(map[string]interface{}{"stdout": stdout, "stderr": stderr}).Info("reboot output")
	}

	return EntryPoint{}, ImmediateTransition(), nil
}
