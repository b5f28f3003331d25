/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OSSystems/updatehub/activeinactive"
	"github.com/OSSystems/updatehub/cloudclient"
	"github.com/OSSystems/updatehub/logger"
	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/settings"
	"github.com/OSSystems/updatehub/updatehub"
	"github.com/OSSystems/updatehub/updatepackage"
)

func newSharedState(t *testing.T, fs afero.Fs) *updatehub.SharedState {
	t.Helper()

	rs, err := runtimesettings.Load(fs, "/runtime.conf", true)
	require.NoError(t, err)

	aii, err := activeinactive.NewFileBackend(fs, "/active")
	require.NoError(t, err)

	cfg := settings.Default()
	cfg.Update.DownloadDir = "/download"

	return &updatehub.SharedState{
		Settings:        cfg,
		RuntimeSettings: rs,
		Firmware:        metadata.Firmware{ProductUID: "prod", Hardware: "board-a"},
		FSBackend:       fs,
		ActiveInactive:  aii,
		Registry:        object.NewRegistry(),
		LogBuffer:       logger.NewBuffer(64),
		NewCloudClient: func(server string) *cloudclient.Client {
			return cloudclient.New(server, fs)
		},
	}
}

func TestEntryPointParksWhenPollingDisabled(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Settings.Polling.Enabled = false

	next, transition, err := updatehub.EntryPoint{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "park", next.Name())
	assert.Equal(t, updatehub.Never, transition.Kind)
}

func TestEntryPointGoesToPollWhenEnabled(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Settings.Polling.Enabled = true

	next, transition, err := updatehub.EntryPoint{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "poll", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
}

func TestPollConsumesForcePoll(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	require.NoError(t, shared.RuntimeSettings.ForcePoll())

	next, transition, err := updatehub.Poll{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "probe", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
	assert.False(t, shared.RuntimeSettings.Now)
}

func TestPollDelaysUntilIntervalElapses(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Settings.Polling.Interval = time.Hour
	require.NoError(t, shared.RuntimeSettings.SetLastPoll(time.Now()))

	next, transition, err := updatehub.Poll{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "probe", next.Name())
	assert.Equal(t, updatehub.Delayed, transition.Kind)
	assert.True(t, transition.Delay > 0 && transition.Delay <= time.Hour)
}

func TestProbeNoUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Settings.Network.ServerAddress = server.URL

	next, transition, err := updatehub.Probe{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "entry_point", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
	assert.True(t, shared.RuntimeSettings.HasLast)
}

func TestProbeReturnsValidationOnUpdate(t *testing.T) {
	body := `{"product-uid":"prod","supported-hardware":["board-a"],"objects":[[{"mode":"copy","sha256sum":"a","size":1}]]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Settings.Network.ServerAddress = server.URL

	next, transition, err := updatehub.Probe{}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "validation", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
}

func TestValidationRejectsIncompatibleHardware(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	shared.Firmware.Hardware = "board-b"

	pkg := mustParsePackage(t, `{"product-uid":"prod","supported-hardware":["board-a"],"objects":[[]]}`)

	_, _, err := updatehub.Validation{Package: pkg}.Handle(shared)
	assert.Error(t, err)

	var transitionErr *updatehub.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, updatehub.KindIncompatibleHardware, transitionErr.Kind())
}

func TestValidationSkipsAlreadyAppliedPackage(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	pkg := mustParsePackage(t, `{"product-uid":"prod","objects":[[]]}`)
	shared.RuntimeSettings.AppliedPackageUID = pkg.PackageUID()

	next, _, err := updatehub.Validation{Package: pkg}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "entry_point", next.Name())
}

func TestValidationProceedsToPrepareDownload(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	pkg := mustParsePackage(t, `{"product-uid":"prod","objects":[[]]}`)

	next, transition, err := updatehub.Validation{Package: pkg}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "prepare_download", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
}

func TestPrepareDownloadPrunesUnknownAndCorruptedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	shared := newSharedState(t, fs)

	pkg := mustParsePackage(t, `{"product-uid":"prod","objects":[
		[{"mode":"copy","sha256sum":"keep","size":5}],
		[{"mode":"copy","sha256sum":"keep","size":5}]
	]}`)

	require.NoError(t, afero.WriteFile(fs, "/download/unknown-leftover", []byte("junk"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/download/keep", []byte("toolong!"), 0o644))

	next, transition, err := updatehub.PrepareDownload{Package: pkg}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "download", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)

	exists, err := afero.Exists(fs, "/download/unknown-leftover")
	require.NoError(t, err)
	assert.False(t, exists, "unknown leftover file should have been pruned")

	exists, err = afero.Exists(fs, "/download/keep")
	require.NoError(t, err)
	assert.False(t, exists, "corrupted (oversized) object should have been removed")
}

func TestDownloadFetchesMissingObjectsAndAdvancesToInstall(t *testing.T) {
	content := []byte("hello world")
	sha := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/report":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(content)
		}
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	shared := newSharedState(t, fs)
	shared.Settings.Network.ServerAddress = server.URL

	pkg := mustParsePackage(t, `{"product-uid":"prod","objects":[
		[{"mode":"copy","sha256sum":"`+sha+`","size":11,"target-path":"/dev/a"}],
		[{"mode":"copy","sha256sum":"`+sha+`","size":11,"target-path":"/dev/b"}]
	]}`)

	next, transition, err := updatehub.Advance(updatehub.Download{Package: pkg}, shared)
	require.NoError(t, err)
	assert.Equal(t, "install", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)

	data, err := afero.ReadFile(fs, "/download/"+sha)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestErrorStateResetsTransientAndReturnsToEntryPoint(t *testing.T) {
	shared := newSharedState(t, afero.NewMemMapFs())
	require.NoError(t, shared.RuntimeSettings.ForcePoll())

	next, transition, err := updatehub.Error{Cause: assertError{}}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "entry_point", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
	assert.False(t, shared.RuntimeSettings.Now)
}

func TestPrepareLocalInstallParsesManifestIntoValidation(t *testing.T) {
	fs := afero.NewMemMapFs()
	shared := newSharedState(t, fs)

	require.NoError(t, afero.WriteFile(fs, "/pkg.json", []byte(`{"product-uid":"prod","objects":[[]]}`), 0o644))

	next, transition, err := updatehub.PrepareLocalInstall{Path: "/pkg.json"}.Handle(shared)
	require.NoError(t, err)
	assert.Equal(t, "validation", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
}

func TestDirectDownloadFetchesURLIntoPrepareLocalInstall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"product-uid":"prod","objects":[[]]}`))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	shared := newSharedState(t, fs)

	next, transition, err := updatehub.DirectDownload{URL: server.URL}.Handle(shared)
	require.NoError(t, err)
	require.Equal(t, "prepare_local_install", next.Name())
	assert.Equal(t, updatehub.Immediate, transition.Kind)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func mustParsePackage(t *testing.T, wire string) *updatepackage.Package {
	t.Helper()
	pkg, err := updatepackage.Parse([]byte(wire))
	require.NoError(t, err)
	return pkg
}
