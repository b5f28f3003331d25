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
	"time"

	"github.com/OSSystems/pkg/log"
)

// Probe contacts the server. ServerAddress overrides
// Settings.Network.ServerAddress when set, the mechanism the local API's
// Probe(server_override) message uses. spec.md §4.1/§4.2.
type Probe struct {
	ServerAddress string
}

// Name implements State.
func (Probe) Name() string { return "probe" }

// IsPreemptive implements State.
func (Probe) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (Probe) IsHandlingDownload() bool { return false }

// probeRetryDelay is how long the stepper waits before re-entering
// Probe after a failed attempt. Returning a DelayedTransition instead
// of sleeping in place lets the mailbox service Info/AbortDownload/etc
// between retries (spec.md §5).
const probeRetryDelay = time.Second

// Handle implements State. A transport error or non-2xx/404 status is
// not surfaced as a transition error: it increments the persisted
// retry counter and re-enters Probe after probeRetryDelay, bounded
// only by external cancellation, which the stepper enforces by this
// state being preemptive.
func (p Probe) Handle(shared *SharedState) (State, StepTransition, error) {
	server := shared.ServerAddress(p.ServerAddress)
	client := shared.NewCloudClient(server)

	probeResult, err := client.Probe(&shared.RuntimeSettings, &shared.Firmware)
	if err != nil {
		log.Warn("probe failed, will retry in ", probeRetryDelay, ": ", err)
		if incErr := shared.RuntimeSettings.IncRetries(); incErr != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, incErr)
		}
		return p, DelayedTransition(probeRetryDelay), nil
	}

	if err := shared.RuntimeSettings.ClearRetries(); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
	}

	switch {
	case probeResult.NoUpdate:
		if err := shared.RuntimeSettings.SetLastPoll(time.Now()); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
		}
		return EntryPoint{}, ImmediateTransition(), nil

	case probeResult.ExtraPoll > 0:
		log.Info("delaying the probing as requested by the server")
		if err := shared.RuntimeSettings.SetExtraInterval(probeResult.ExtraPoll); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
		}
		if err := shared.RuntimeSettings.SetLastPoll(time.Now()); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
		}
		return Poll{}, ImmediateTransition(), nil

	case probeResult.Package != nil:
		if err := shared.RuntimeSettings.SetLastPoll(time.Now()); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
		}
		return Validation{Package: probeResult.Package, Signature: probeResult.Signature}, ImmediateTransition(), nil

	default:
		// Defensive: the client contract guarantees one of the
		// above holds.
		return nil, StepTransition{}, NewTransitionError(KindCloudClient, errors.New("unexpected empty probe result"))
	}
}
