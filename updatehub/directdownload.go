/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DirectDownload fetches a user-supplied URL (the local API's
// RemoteInstall request) into the download directory, then hands it
// to PrepareLocalInstall as if it had been probed normally. spec.md
// §4.1; supplemented per SPEC_FULL.md §6 from
// original_source/updatehub/src/states/direct_download.rs.
type DirectDownload struct {
	URL string
}

// Name implements State.
func (DirectDownload) Name() string { return "direct_download" }

// IsPreemptive implements State.
func (DirectDownload) IsPreemptive() bool { return true }

// IsHandlingDownload implements State.
func (DirectDownload) IsHandlingDownload() bool { return false }

// Handle implements State.
func (d DirectDownload) Handle(shared *SharedState) (State, StepTransition, error) {
	resp, err := http.Get(d.URL)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindCloudClient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, StepTransition{}, NewTransitionError(KindCloudClient, fmt.Errorf("invalid status response: %d", resp.StatusCode))
	}

	path := filepath.Join(shared.Settings.Update.DownloadDir, "direct_download.tmp")
	if err := shared.FSBackend.MkdirAll(shared.Settings.Update.DownloadDir, 0o755); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}

	f, err := shared.FSBackend.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return nil, StepTransition{}, NewTransitionError(KindIO, err)
	}

	return PrepareLocalInstall{Path: path}, ImmediateTransition(), nil
}
