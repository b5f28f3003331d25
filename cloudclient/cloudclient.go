/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package cloudclient implements the three HTTPS operations the agent
// performs against the cloud update server: probe, object download
// with byte-range resume, and progress reports. Replaces the teacher's
// client package with the richer protocol spec.md §4.3/§6 describes.
package cloudclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/updatepackage"
)

const (
	userAgent       = "updatehub/next"
	apiContentType  = "application/vnd.updatehub-v1+json"
	requestTimeout  = 10 * time.Second
)

// Client talks to a single server address.
type Client struct {
	server     string
	httpClient *http.Client
	fsBackend  afero.Fs
}

// New returns a Client targeting server, e.g. "https://api.updatehub.io".
func New(server string, fsBackend afero.Fs) *Client {
	return &Client{
		server:     server,
		httpClient: &http.Client{Timeout: requestTimeout},
		fsBackend:  fsBackend,
	}
}

// ProbeResult is the tagged outcome of a Probe call, per spec.md §4.1.
type ProbeResult struct {
	NoUpdate  bool
	ExtraPoll time.Duration
	Package   *updatepackage.Package
	Signature *updatepackage.Signature
}

func setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Content-Type", apiContentType)
}

// firmwareWire mirrors the POST /upgrades body shape of spec.md §6.
type firmwareWire struct {
	ProductUID       string                     `json:"product-uid"`
	Version          string                     `json:"version"`
	Hardware         string                     `json:"hardware"`
	DeviceIdentity   metadata.MetadataValue     `json:"device-identity"`
	DeviceAttributes metadata.MetadataValue     `json:"device-attributes"`
}

func firmwareWireFrom(fw *metadata.Firmware) firmwareWire {
	return firmwareWire{
		ProductUID:       fw.ProductUID,
		Version:          fw.Version,
		Hardware:         fw.Hardware,
		DeviceIdentity:   fw.DeviceIdentity,
		DeviceAttributes: fw.DeviceAttributes,
	}
}

// Probe implements spec.md §4.3's probe() operation: POST /upgrades
// with the firmware metadata, the runtime-settings retry count in
// api-retries, and a response switch on 404 / 200+add-extra-poll /
// 200 plain.
func (c *Client) Probe(rs *runtimesettings.RuntimeSettings, fw *metadata.Firmware) (ProbeResult, error) {
	body, err := json.Marshal(firmwareWireFrom(fw))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to encode probe body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.server+"/upgrades", bytes.NewReader(body))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to build probe request: %w", err)
	}
	setCommonHeaders(req)
	req.Header.Set("Api-Retries", strconv.Itoa(rs.Retries))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe request failed: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusNotFound:
		return ProbeResult{NoUpdate: true}, nil

	case http.StatusOK:
		if extra := res.Header.Get("add-extra-poll"); extra != "" {
			secs, err := strconv.ParseInt(extra, 10, 64)
			if err != nil {
				return ProbeResult{}, fmt.Errorf("invalid add-extra-poll header %q: %w", extra, err)
			}
			return ProbeResult{ExtraPoll: time.Duration(secs) * time.Second}, nil
		}

		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("failed to read probe response body: %w", err)
		}

		pkg, err := updatepackage.Parse(raw)
		if err != nil {
			return ProbeResult{}, err
		}

		var sig *updatepackage.Signature
		if h := res.Header.Get("UH-Signature"); h != "" {
			parsed, err := updatepackage.ParseSignature(h)
			if err != nil {
				return ProbeResult{}, err
			}
			sig = &parsed
		}

		return ProbeResult{Package: pkg, Signature: sig}, nil

	default:
		return ProbeResult{}, fmt.Errorf("invalid status response from probe: %d", res.StatusCode)
	}
}

// DownloadObject implements spec.md §4.3's download_object():
// GET /products/{product}/packages/{package}/objects/{sha} with a
// Range header when a partial file already exists, appending the
// response body to that file.
func (c *Client) DownloadObject(productUID, packageUID, downloadDir, sha256sum string) error {
	if err := c.fsBackend.MkdirAll(downloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(downloadDir, sha256sum)

	url := fmt.Sprintf("%s/products/%s/packages/%s/objects/%s", c.server, productUID, packageUID, sha256sum)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	setCommonHeaders(req)

	if info, err := c.fsBackend.Stat(path); err == nil {
		offset := info.Size() - 1
		if offset < 0 {
			offset = 0
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	} else if !os.IsNotExist(err) {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("invalid status response from object download: %d", res.StatusCode)
	}

	f, err := c.fsBackend.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, res.Body)
	return err
}

// reportWire mirrors the POST /report body shape of spec.md §6.
type reportWire struct {
	Status           string                 `json:"status"`
	ProductUID       string                 `json:"product-uid"`
	Version          string                 `json:"version"`
	Hardware         string                 `json:"hardware"`
	DeviceIdentity   metadata.MetadataValue `json:"device-identity"`
	DeviceAttributes metadata.MetadataValue `json:"device-attributes"`
	PackageUID       string                 `json:"package-uid"`
	PreviousState    *string                `json:"previous-state,omitempty"`
	ErrorMessage     *string                `json:"error-message,omitempty"`
	CurrentLog       *string                `json:"current-log,omitempty"`
}

// ReportOptions carries the fields that are only set on an error
// report.
type ReportOptions struct {
	PreviousState string
	ErrorMessage  string
	CurrentLog    string
}

// Report implements spec.md §4.3/§6's report(): a best-effort POST
// /report. Report failures are logged by the caller as warnings and
// never mask the underlying transition result (spec.md §4.1).
func (c *Client) Report(status string, fw *metadata.Firmware, packageUID string, opts *ReportOptions) error {
	wire := reportWire{
		Status:           status,
		ProductUID:       fw.ProductUID,
		Version:          fw.Version,
		Hardware:         fw.Hardware,
		DeviceIdentity:   fw.DeviceIdentity,
		DeviceAttributes: fw.DeviceAttributes,
		PackageUID:       packageUID,
	}

	if opts != nil {
		if opts.PreviousState != "" {
			wire.PreviousState = &opts.PreviousState
		}
		if opts.ErrorMessage != "" {
			wire.ErrorMessage = &opts.ErrorMessage
		}
		if opts.CurrentLog != "" {
			wire.CurrentLog = &opts.CurrentLog
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to encode report body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.server+"/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	setCommonHeaders(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("invalid status response from report: %d", res.StatusCode)
	}

	return nil
}
