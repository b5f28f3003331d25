/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package stepper is the single-consumer mailbox actor of spec.md
// §4.2: it owns the current updatehub.State and updatehub.SharedState
// exclusively, advancing the machine on its own goroutine and serving
// external requests (Info, Probe, AbortDownload, LocalInstall,
// RemoteInstall, Log) between steps. It generalizes the teacher's
// daemon.go run loop, which drove a single fixed Idle→Poll→Check→...
// sequence directly on the caller's goroutine with no concept of
// external preemption.
package stepper

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OSSystems/pkg/log"

	"github.com/OSSystems/updatehub/logger"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/settings"
	"github.com/OSSystems/updatehub/updatehub"
)

// AgentVersion is the value reported in /info's "version" field, the
// same one the cloud client sends as its User-Agent version tag.
const AgentVersion = "next"

// Result is returned by every external request: Accepted reports
// whether the machine honored it, StateName names the resulting (or
// rejecting) state. Err is left nil by every request: unexpected
// failures are returned as the request method's error instead, and a
// plain InvalidState rejection is Accepted=false. UpdateAvailable and TryAgainIn
// are only meaningful for a Probe request: they report what the probe
// actually found once it concludes, rather than the provisional
// acceptance of the request.
type Result struct {
	Accepted        bool
	StateName       string
	Err             error
	UpdateAvailable bool
	TryAgainIn      time.Duration
}

// Info is the read-only snapshot spec.md §4.2's Info message returns.
type Info struct {
	StateName       string
	Version         string
	Settings        settings.Settings
	RuntimeSettings runtimesettings.RuntimeSettings
}

// message is the mailbox's internal envelope; exactly one kind of
// request is ever non-nil, matching the Rust original's enum-of-
// messages shape re-expressed as a Go tagged struct.
type message struct {
	step          bool
	info          *infoRequest
	probe         *probeRequest
	abortDownload *replyRequest
	localInstall  *pathRequest
	remoteInstall *pathRequest
	log           *logRequest
}

type infoRequest struct {
	reply chan Info
}

type probeRequest struct {
	serverOverride string
	reply          chan Result
}

type replyRequest struct {
	reply chan Result
}

type pathRequest struct {
	path  string
	reply chan Result
}

type logRequest struct {
	reply chan []logger.Entry
}

// Stepper is the mailbox actor. Construct with New and drive it with
// Run; send requests with the Info/Probe/AbortDownload/LocalInstall/
// RemoteInstall/Log methods, all of which are safe to call
// concurrently from the HTTP server's goroutines.
type Stepper struct {
	shared *updatehub.SharedState
	state  updatehub.State

	inbox chan message
	timer *time.Timer

	// pendingProbeReplies holds the reply channels of Probe requests
	// accepted but not yet resolved: the probe may retry in place
	// (spec.md §5), so acceptance and outcome are reported separately.
	pendingProbeReplies []chan Result
}

// New builds a Stepper that starts from updatehub.NewInitialState()
// and owns shared exclusively from this point on; callers must not
// touch shared concurrently once Run has been started.
func New(shared *updatehub.SharedState) *Stepper {
	return &Stepper{
		shared: shared,
		state:  updatehub.NewInitialState(),
		inbox:  make(chan message, 8),
	}
}

// Run drives the mailbox loop until ctx is cancelled, using an
// errgroup so the actor goroutine's lifetime is tied to Run: Run waits
// for the loop and returns its error. A panic is not recovered.
// It self-enqueues the first Step to get the machine moving.
func (s *Stepper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.enqueueStep()
		return s.loop(ctx)
	})

	return g.Wait()
}

func (s *Stepper) enqueueStep() {
	select {
	case s.inbox <- message{step: true}:
	default:
		// A Step is already queued; StepTransition scheduling never
		// needs more than one pending Step at a time.
	}
}

func (s *Stepper) loop(ctx context.Context) error {
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if s.timer != nil {
				s.timer.Stop()
			}
			return ctx.Err()

		case <-timerC:
			timerC = nil
			s.enqueueStep()

		case msg := <-s.inbox:
			switch {
			case msg.step:
				s.dispatchStep()
				timerC = s.scheduleTimer()

			case msg.info != nil:
				msg.info.reply <- s.snapshot()

			case msg.probe != nil:
				s.beginProbe(msg.probe)

			case msg.abortDownload != nil:
				msg.abortDownload.reply <- s.abortDownload()

			case msg.localInstall != nil:
				msg.localInstall.reply <- s.preempt(updatehub.PrepareLocalInstall{Path: msg.localInstall.path})

			case msg.remoteInstall != nil:
				msg.remoteInstall.reply <- s.preempt(updatehub.DirectDownload{URL: msg.remoteInstall.path})

			case msg.log != nil:
				msg.log.reply <- s.shared.LogBuffer.Entries()
			}
		}
	}
}

// dispatchStep runs exactly one updatehub.Advance call. A transition
// error routes to the Error state immediately, per spec.md §7's
// propagation policy, instead of surfacing to the mailbox.
func (s *Stepper) dispatchStep() {
	wasProbing := s.state.Name() == "probe"

	next, transition, err := updatehub.Advance(s.state, s.shared)
	if err != nil {
		log.WithFields(map[string]interface{}{"state": s.state.Name()}).Warn("transition failed: ", err)
		s.state = updatehub.Error{Cause: err}
		s.timer = nil
		s.enqueueStep()
		s.resolveProbeWaiters(wasProbing)
		return
	}

	s.state = next
	s.applyTransition(transition)
	s.resolveProbeWaiters(wasProbing)
}

// resolveProbeWaiters answers every Probe request accepted since the
// machine last entered the Probe state, once it actually concludes
// (wasProbing and the state has since moved on to something else).
// Probe re-entering itself (a transient-failure retry) leaves
// wasProbing's callers waiting for the next dispatchStep.
func (s *Stepper) resolveProbeWaiters(wasProbing bool) {
	if !wasProbing || s.state.Name() == "probe" || len(s.pendingProbeReplies) == 0 {
		return
	}

	result := Result{
		Accepted:        true,
		StateName:       s.state.Name(),
		UpdateAvailable: s.state.Name() == "validation",
	}
	if s.shared.RuntimeSettings.HasExtraInterval {
		result.TryAgainIn = s.shared.RuntimeSettings.ExtraInterval
	}

	for _, reply := range s.pendingProbeReplies {
		reply <- result
	}
	s.pendingProbeReplies = nil
}

// beginProbe preempts a preemptible current state into Probe, the same
// way preempt() does for LocalInstall/RemoteInstall, but defers the
// reply until the probe concludes instead of answering with the bare
// acceptance, so the caller learns whether an update was actually
// found (spec.md §6).
func (s *Stepper) beginProbe(req *probeRequest) {
	if !s.state.IsPreemptive() {
		req.reply <- Result{Accepted: false, StateName: s.state.Name()}
		return
	}

	s.state = updatehub.Probe{ServerAddress: req.serverOverride}
	s.applyTransition(updatehub.ImmediateTransition())
	s.pendingProbeReplies = append(s.pendingProbeReplies, req.reply)
}

func (s *Stepper) applyTransition(t updatehub.StepTransition) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	switch t.Kind {
	case updatehub.Immediate:
		s.enqueueStep()
	case updatehub.Delayed:
		s.timer = time.NewTimer(t.Delay)
	case updatehub.Never:
		// Parked: only an external message wakes the machine again.
	}
}

func (s *Stepper) scheduleTimer() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// preempt is shared by LocalInstall/RemoteInstall: both replace a
// preemptible current state outright, per spec.md §4.2. Probe uses
// beginProbe instead.
func (s *Stepper) preempt(next updatehub.State) Result {
	if !s.state.IsPreemptive() {
		return Result{Accepted: false, StateName: s.state.Name()}
	}

	s.state = next
	s.applyTransition(updatehub.ImmediateTransition())

	return Result{Accepted: true, StateName: next.Name()}
}

func (s *Stepper) abortDownload() Result {
	if !s.state.IsHandlingDownload() {
		return Result{Accepted: false, StateName: s.state.Name()}
	}

	s.state = updatehub.EntryPoint{}
	s.applyTransition(updatehub.ImmediateTransition())

	return Result{Accepted: true, StateName: s.state.Name()}
}

func (s *Stepper) snapshot() Info {
	return Info{
		StateName:       s.state.Name(),
		Version:         AgentVersion,
		Settings:        s.shared.Settings,
		RuntimeSettings: s.shared.RuntimeSettings,
	}
}

// Info returns a snapshot of the machine's current state, version,
// settings and runtime settings.
func (s *Stepper) Info(ctx context.Context) (Info, error) {
	reply := make(chan Info, 1)
	if err := s.send(ctx, message{info: &infoRequest{reply: reply}}); err != nil {
		return Info{}, err
	}
	select {
	case info := <-reply:
		return info, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Probe asks the machine to probe now, optionally against
// serverOverride instead of the configured server address.
func (s *Stepper) Probe(ctx context.Context, serverOverride string) (Result, error) {
	return s.request(ctx, func(reply chan Result) message {
		return message{probe: &probeRequest{serverOverride: serverOverride, reply: reply}}
	})
}

// AbortDownload cancels an in-flight Download, if one is running.
func (s *Stepper) AbortDownload(ctx context.Context) (Result, error) {
	return s.request(ctx, func(reply chan Result) message {
		return message{abortDownload: &replyRequest{reply: reply}}
	})
}

// LocalInstall asks the machine to install the update package manifest
// at path, bypassing Probe.
func (s *Stepper) LocalInstall(ctx context.Context, path string) (Result, error) {
	return s.request(ctx, func(reply chan Result) message {
		return message{localInstall: &pathRequest{path: path, reply: reply}}
	})
}

// RemoteInstall asks the machine to fetch url and install it,
// bypassing Probe.
func (s *Stepper) RemoteInstall(ctx context.Context, url string) (Result, error) {
	return s.request(ctx, func(reply chan Result) message {
		return message{remoteInstall: &pathRequest{path: url, reply: reply}}
	})
}

// Log returns the current contents of the in-memory log ring buffer.
func (s *Stepper) Log(ctx context.Context) ([]logger.Entry, error) {
	reply := make(chan []logger.Entry, 1)
	if err := s.send(ctx, message{log: &logRequest{reply: reply}}); err != nil {
		return nil, err
	}
	select {
	case entries := <-reply:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stepper) request(ctx context.Context, build func(chan Result) message) (Result, error) {
	reply := make(chan Result, 1)
	if err := s.send(ctx, build(reply)); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Stepper) send(ctx context.Context, msg message) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stepper: %w", ctx.Err())
	}
}
