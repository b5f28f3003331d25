/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package localapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OSSystems/updatehub/activeinactive"
	"github.com/OSSystems/updatehub/cloudclient"
	"github.com/OSSystems/updatehub/localapi"
	"github.com/OSSystems/updatehub/logger"
	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/settings"
	"github.com/OSSystems/updatehub/stepper"
	"github.com/OSSystems/updatehub/updatehub"
)

func newTestServer(t *testing.T, cloudURL string) *httptest.Server {
	t.Helper()

	fs := afero.NewMemMapFs()

	rs, err := runtimesettings.Load(fs, "/runtime.conf", true)
	require.NoError(t, err)

	aii, err := activeinactive.NewFileBackend(fs, "/active")
	require.NoError(t, err)

	cfg := settings.Default()
	cfg.Polling.Enabled = false
	cfg.Update.DownloadDir = "/download"
	cfg.Network.ServerAddress = cloudURL

	firmware := metadata.Firmware{ProductUID: "prod"}

	shared := &updatehub.SharedState{
		Settings:        cfg,
		RuntimeSettings: rs,
		Firmware:        firmware,
		FSBackend:       fs,
		ActiveInactive:  aii,
		Registry:        object.NewRegistry(),
		LogBuffer:       logger.NewBuffer(64),
		NewCloudClient: func(server string) *cloudclient.Client {
			return cloudclient.New(server, fs)
		},
	}

	s := stepper.New(shared)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()

	waitForParked(t, s, ctx)

	api := localapi.New(s, &firmware)
	return httptest.NewServer(api)
}

func waitForParked(t *testing.T, s *stepper.Stepper, ctx context.Context) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := s.Info(ctx)
		require.NoError(t, err)
		if info.StateName == "park" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the machine to park")
}

func TestInfoReturnsCurrentState(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Get(server.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "park", body["state"])
}

func TestProbeReportsNoUpdateHonestly(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Post(server.URL+"/probe", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["update_available"])
}

func TestProbeReportsUpdateAvailable(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"product-uid":"prod","objects":[[]]}`))
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Post(server.URL+"/probe", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["update_available"])
}

func TestAbortDownloadRejectedWhenIdle(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Post(server.URL+"/update/download/abort", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLocalInstallAcceptedForMissingManifest(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Post(server.URL+"/local_install", "text/plain", strings.NewReader("/no/such/manifest.json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "prepare_local_install", body["state"])
}

func TestLogReturnsEntries(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cloud.Close()

	server := newTestServer(t, cloud.URL)
	defer server.Close()

	resp, err := http.Get(server.URL + "/log")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
}
