/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"math/rand"
	"time"

	"github.com/OSSystems/pkg/log"
)

// Park is the terminal idle state: it stays parked until an external
// request preempts it. spec.md §4.1.
type Park struct{}

// Name implements State.
func (Park) Name() string { return "park" }

// IsPreemptive implements State.
func (Park) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (Park) IsHandlingDownload() bool { return false }

// Handle implements State: Park never transitions on its own.
func (p Park) Handle(shared *SharedState) (State, StepTransition, error) {
	return p, NeverTransition(), nil
}

// EntryPoint decides what to do next: Poll if polling is enabled,
// Park otherwise. spec.md §4.1.
type EntryPoint struct{}

// Name implements State.
func (EntryPoint) Name() string { return "entry_point" }

// IsPreemptive implements State.
func (EntryPoint) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (EntryPoint) IsHandlingDownload() bool { return false }

// Handle implements State.
func (e EntryPoint) Handle(shared *SharedState) (State, StepTransition, error) {
	if !shared.Settings.Polling.Enabled {
		return Park{}, NeverTransition(), nil
	}
	return Poll{}, ImmediateTransition(), nil
}

// Poll waits until it is time to probe, per spec.md §4.1's schedule.
type Poll struct{}

// Name implements State.
func (Poll) Name() string { return "poll" }

// IsPreemptive implements State.
func (Poll) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (Poll) IsHandlingDownload() bool { return false }

// Handle implements State.
func (p Poll) Handle(shared *SharedState) (State, StepTransition, error) {
	now := time.Now()
	rs := &shared.RuntimeSettings

	if rs.Now {
		if err := rs.ClearForcePoll(); err != nil {
			return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
		}
		return Probe{}, ImmediateTransition(), nil
	}

	lastPoll := rs.Last
	if !rs.HasLast {
		// No polling has happened before: synthesize an offset inside
		// the interval as an anti-thundering-herd spread. This is not
		// persisted; it only serves this one decision.
		interval := shared.Settings.Polling.Interval
		offset := time.Duration(rand.Int63n(int64(interval)))
		lastPoll = now.Add(offset)
	}

	if lastPoll.After(now) {
		log.Info("forcing probe as last polling seems to have happened in the future")
		return Probe{}, ImmediateTransition(), nil
	}

	effectiveInterval := shared.Settings.Polling.Interval
	if rs.HasExtraInterval && rs.ExtraInterval > effectiveInterval {
		effectiveInterval = rs.ExtraInterval
	}

	due := lastPoll.Add(effectiveInterval)
	if !due.After(now) {
		if rs.HasExtraInterval {
			if err := rs.ClearExtraInterval(); err != nil {
				return nil, StepTransition{}, NewTransitionError(KindRuntimeSettings, err)
			}
		}
		return Probe{}, ImmediateTransition(), nil
	}

	return Probe{}, DelayedTransition(due.Sub(now)), nil
}

// Error logs the cause with its chain, resets transient runtime state,
// and always returns to EntryPoint. spec.md §4.1.
type Error struct {
	Cause error
}

// Name implements State.
func (Error) Name() string { return "error" }

// IsPreemptive implements State.
func (Error) IsPreemptive() bool { return false }

// IsHandlingDownload implements State.
func (Error) IsHandlingDownload() bool { return false }

// Handle implements State.
func (e Error) Handle(shared *SharedState) (State, StepTransition, error) {
	log.WithFields(map[string]interface{}{"cause": e.Cause}).Warn("state machine entered error state")

	if err := shared.RuntimeSettings.ResetTransient(); err != nil {
		log.Warn("failed to reset transient runtime settings: ", err)
	}

	return EntryPoint{}, ImmediateTransition(), nil
}

// toErrorState wraps err in a TransitionError of kind and returns the
// Error state that should replace the caller's.
func toErrorState(kind Kind, err error) State {
	return Error{Cause: NewTransitionError(kind, err)}
}
