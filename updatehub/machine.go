/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package updatehub is the core of the agent: the state machine of
// spec.md §4.1 (Park, EntryPoint, Poll, Probe, Validation,
// PrepareDownload, Download, Install, Reboot, DirectDownload,
// PrepareLocalInstall, Error), its progress-reporting wrapper, and the
// state-change-callback gate. The startup validate/rollback gate lives
// in the startup package. It generalizes the teacher's states.go/
// daemon.go (a simpler idle/poll/check/download/install machine) to
// the richer state set and actor-friendly transition contract spec.md
// describes.
package updatehub

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/OSSystems/pkg/log"
	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/activeinactive"
	"github.com/OSSystems/updatehub/cloudclient"
	"github.com/OSSystems/updatehub/logger"
	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/settings"
)

// StepTransitionKind tags how soon the stepper should advance the
// machine again after a Handle call returns.
type StepTransitionKind int

const (
	// Immediate asks the stepper to advance at once.
	Immediate StepTransitionKind = iota
	// Delayed asks the stepper to wait Delay before advancing.
	Delayed
	// Never parks the stepper until an external request arrives.
	Never
)

// StepTransition is returned alongside the next State from every
// Handle call.
type StepTransition struct {
	Kind  StepTransitionKind
	Delay time.Duration
}

// ImmediateTransition is shorthand for StepTransition{Kind: Immediate}.
func ImmediateTransition() StepTransition { return StepTransition{Kind: Immediate} }

// DelayedTransition is shorthand for a StepTransition that waits d.
func DelayedTransition(d time.Duration) StepTransition {
	return StepTransition{Kind: Delayed, Delay: d}
}

// NeverTransition is shorthand for StepTransition{Kind: Never}.
func NeverTransition() StepTransition { return StepTransition{Kind: Never} }

// SharedState is held exclusively by the stepper; every transition
// runs on the stepper's goroutine and mutates it in place. Other
// subsystems only ever see a read snapshot (via the stepper's Info
// message), never this value itself.
type SharedState struct {
	Settings        settings.Settings
	RuntimeSettings runtimesettings.RuntimeSettings
	Firmware        metadata.Firmware

	FSBackend      afero.Fs
	ActiveInactive activeinactive.Interface
	Registry       object.Registry
	LogBuffer      *logger.Buffer

	// NewCloudClient builds a cloudclient.Client for a given server
	// address; overridable in tests.
	NewCloudClient func(server string) *cloudclient.Client

	// StateChangeCallback implements spec.md §4.1's "state_change_callback"
	// gate consulted by the three reportable states; nil means "always
	// Continue" (no callback configured).
	StateChangeCallback func(stateName string) (CallbackTransition, error)

	// RequireSignedUpdates gates Validation's signature check. Resolved
	// per SPEC_FULL.md: true whenever a public key file is present
	// under Settings.Firmware.MetadataPath (set in cmd/updatehub).
	RequireSignedUpdates bool
	PublicKeyPEM         []byte
}

// ServerAddress returns the server address a Probe should use: an
// explicit override when one is set, otherwise the configured one.
func (s *SharedState) ServerAddress(override string) string {
	if override != "" {
		return override
	}
	return s.Settings.Network.ServerAddress
}

// CallbackTransition is the decision a state_change_callback script
// returns via stdout.
type CallbackTransition int

const (
	// CallbackContinue proceeds with the state's normal handling.
	CallbackContinue CallbackTransition = iota
	// CallbackCancel redirects the machine to EntryPoint.
	CallbackCancel
)

// State is the tagged-variant transition contract every state in
// spec.md §4.1 implements. Re-expressed (per spec.md §9's design note)
// as a single interface (Advance type-asserts for reportable), rather
// than the teacher's inheritance-style BaseState/CancellableState
// composition, so the stepper can store "the current state" as one
// interface value.
type State interface {
	// Name is the lowercase, snake-ish identifier used in /info,
	// reports, and logs (e.g. "entry_point", "prepare_download").
	Name() string
	// Handle advances the machine by exactly one step.
	Handle(shared *SharedState) (State, StepTransition, error)
	// IsPreemptive reports whether an external request may replace
	// this state before Handle runs.
	IsPreemptive() bool
	// IsHandlingDownload reports whether AbortDownload should be
	// honored while this state is current.
	IsHandlingDownload() bool
}

// reportable is implemented by the three states spec.md §4.1 wraps in
// progress reporting: Download, Install, Reboot.
type reportable interface {
	State
	PackageUID() string
	ReportEnterStateName() string
	ReportLeaveStateName() string
}

// NewInitialState returns the machine's starting state, EntryPoint.
func NewInitialState() State {
	return EntryPoint{}
}

// Advance runs exactly one step of the machine: the state-change
// callback gate and progress-reporting wrapper for reportable states,
// or a plain Handle call otherwise. It is the single place the
// stepper calls into this package, matching spec.md §9's design note
// that the progress-reporting mixin should be a wrapper function
// applied by the machine, not an inheritance relationship.
func Advance(state State, shared *SharedState) (State, StepTransition, error) {
	rs, ok := state.(reportable)
	if !ok {
		return state.Handle(shared)
	}

	if shared.StateChangeCallback != nil {
		transition, err := shared.StateChangeCallback(state.Name())
		if err != nil {
			return nil, StepTransition{}, NewTransitionError(KindProcess, err)
		}
		if transition == CallbackCancel {
			log.WithFields(map[string]interface{}{"state": state.Name()}).Warn("state change callback cancelled transition")
			return EntryPoint{}, ImmediateTransition(), nil
		}
	}

	return handleAndReportProgress(rs, shared)
}

func handleAndReportProgress(rs reportable, shared *SharedState) (State, StepTransition, error) {
	client := shared.NewCloudClient(shared.Settings.Network.ServerAddress)
	packageUID := rs.PackageUID()

	if err := client.Report(rs.ReportEnterStateName(), &shared.Firmware, packageUID, nil); err != nil {
		log.WithFields(map[string]interface{}{"state": rs.Name()}).Warn("report failed: ", err)
	}

	next, transition, err := rs.Handle(shared)
	if err != nil {
		enter := rs.ReportEnterStateName()
		reportErr := client.Report("error", &shared.Firmware, packageUID, &cloudclient.ReportOptions{
			PreviousState: enter,
			ErrorMessage:  err.Error(),
			CurrentLog:    shared.LogBuffer.Drain(),
		})
		if reportErr != nil {
			log.WithFields(map[string]interface{}{"state": rs.Name()}).Warn("report failed: ", reportErr)
		}
		return nil, StepTransition{}, err
	}

	if err := client.Report(rs.ReportLeaveStateName(), &shared.Firmware, packageUID, nil); err != nil {
		log.WithFields(map[string]interface{}{"state": rs.Name()}).Warn("report failed: ", err)
	}

	return next, transition, nil
}

// runReboot invokes the platform reboot command. Exposed as a var so
// tests can stub it the way original_source/src/states/reboot.rs's
// test fakes a "reboot" binary on PATH.
var runReboot = func() (stdout, stderr string, err error) {
	cmd := exec.Command("reboot")
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return string(out), stderr, fmt.Errorf("reboot command failed: %w", err)
	}
	return string(out), "", nil
}
