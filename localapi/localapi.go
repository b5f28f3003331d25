/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package localapi is the local control HTTP API of spec.md §6: info,
// probe, log, download-abort, local/remote install. It generalizes the
// teacher's client package, which only ever made outbound requests to
// the cloud server, into an inbound router fronting the stepper
// mailbox, built with the chi router the rest of the retrieved example
// pack uses for HTTP services.
package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OSSystems/pkg/log"

	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/stepper"
)

// probeResultTimeout bounds how long handleProbe waits for an accepted
// probe to resolve (including its own transient-failure retries)
// before giving up and reporting it as still busy.
const probeResultTimeout = 30 * time.Second

// Server wires the Stepper mailbox to the HTTP routes spec.md §6
// names.
type Server struct {
	stepper  *stepper.Stepper
	firmware *metadata.Firmware
	router   chi.Router
}

// New builds a Server ready to be used as an http.Handler.
func New(s *stepper.Stepper, firmware *metadata.Firmware) *Server {
	srv := &Server{stepper: s, firmware: firmware}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Get("/info", srv.handleInfo)
	r.Post("/probe", srv.handleProbe)
	r.Get("/log", srv.handleLog)
	r.Post("/update/download/abort", srv.handleAbortDownload)
	r.Post("/local_install", srv.handleLocalInstall)
	r.Post("/remote_install", srv.handleRemoteInstall)

	srv.router = r
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDMiddleware stamps every request with a correlation id, the
// same uuid-based pattern the rest of the retrieved pack uses for
// tracing inbound calls.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.WithFields(map[string]interface{}{"request_id": id, "path": r.URL.Path}).Debug("local api request")
		next.ServeHTTP(w, r)
	})
}

type infoResponse struct {
	State           string      `json:"state"`
	Version         string      `json:"version"`
	Config          interface{} `json:"config"`
	Firmware        interface{} `json:"firmware"`
	RuntimeSettings interface{} `json:"runtime_settings"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.stepper.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		State:           info.StateName,
		Version:         info.Version,
		Config:          info.Settings,
		Firmware:        s.firmware,
		RuntimeSettings: info.RuntimeSettings,
	})
}

type probeRequestBody struct {
	CustomServer string `json:"custom_server"`
}

type probeResponse struct {
	UpdateAvailable bool   `json:"update_available"`
	TryAgainIn      int    `json:"try_again_in,omitempty"`
	Busy            bool   `json:"busy,omitempty"`
	CurrentState    string `json:"current_state,omitempty"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var body probeRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	// Probe only returns once the probe it triggered has actually
	// concluded (updatehub.Probe.Handle re-enters itself on transient
	// failures rather than blocking the mailbox), so result already
	// carries the real outcome instead of a bare acceptance.
	ctx, cancel := context.WithTimeout(r.Context(), probeResultTimeout)
	defer cancel()

	result, err := s.stepper.Probe(ctx, body.CustomServer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if !result.Accepted {
		writeJSON(w, http.StatusOK, probeResponse{Busy: true, CurrentState: result.StateName})
		return
	}

	writeJSON(w, http.StatusOK, probeResponse{
		UpdateAvailable: result.UpdateAvailable,
		TryAgainIn:      int(result.TryAgainIn.Seconds()),
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stepper.Log(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

type messageResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleAbortDownload(w http.ResponseWriter, r *http.Request) {
	result, err := s.stepper.AbortDownload(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if !result.Accepted {
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: "invalid state: " + result.StateName})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "request accepted"})
}

type stateResponse struct {
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleLocalInstall(w http.ResponseWriter, r *http.Request) {
	path, err := readBodyText(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.stepper.LocalInstall(r.Context(), path)
	s.writeInstallResult(w, result, err)
}

func (s *Server) handleRemoteInstall(w http.ResponseWriter, r *http.Request) {
	url, err := readBodyText(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.stepper.RemoteInstall(r.Context(), url)
	s.writeInstallResult(w, result, err)
}

func (s *Server) writeInstallResult(w http.ResponseWriter, result stepper.Result, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if !result.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, stateResponse{Error: "busy: " + result.StateName})
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{State: result.StateName})
}

func readBodyText(r *http.Request) (string, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode local api response: ", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, messageResponse{Error: err.Error()})
}
