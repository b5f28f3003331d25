/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package metadata holds the immutable, per-boot description of the
// device: product-uid, version, hardware and the identity/attribute
// bags reported to the server on every probe.
package metadata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// MetadataValue is a multi-value map, e.g. device-identity or
// device-attributes, where a single key may legitimately carry more
// than one value (two MAC addresses, two serials, ...).
type MetadataValue map[string][]string

// Firmware is the immutable record describing the running device. It
// is read once at process start and never mutated afterwards; a fresh
// read only happens across process restarts.
type Firmware struct {
	ProductUID        string
	Version           string
	Hardware          string
	DeviceIdentity    MetadataValue
	DeviceAttributes  MetadataValue
}

// scriptDir layout: metadata-path/
//   product-uid         (vendor string, hashed into ProductUID)
//   version
//   hardware
//   device-identity     (one "key=value" entry per line)
//   device-attributes   (same format)
//
// Every file is read as plain text; none of them is executed, so an
// executable script placed here is parsed as its own file contents,
// not its output. A missing file yields an empty value.

// FromPath loads Firmware from the plain-text files in metadataPath.
func FromPath(fsBackend afero.Fs, metadataPath string) (*Firmware, error) {
	productUIDSource, err := readValue(fsBackend, filepath.Join(metadataPath, "product-uid"))
	if err != nil {
		return nil, fmt.Errorf("failed to read product-uid: %w", err)
	}

	version, err := readValue(fsBackend, filepath.Join(metadataPath, "version"))
	if err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}

	hardware, err := readValue(fsBackend, filepath.Join(metadataPath, "hardware"))
	if err != nil {
		return nil, fmt.Errorf("failed to read hardware: %w", err)
	}

	identity, err := readMultiValue(fsBackend, filepath.Join(metadataPath, "device-identity"))
	if err != nil {
		return nil, fmt.Errorf("failed to read device-identity: %w", err)
	}

	attributes, err := readMultiValue(fsBackend, filepath.Join(metadataPath, "device-attributes"))
	if err != nil {
		return nil, fmt.Errorf("failed to read device-attributes: %w", err)
	}

	sum := sha256.Sum256([]byte(productUIDSource))

	return &Firmware{
		ProductUID:       hex.EncodeToString(sum[:]),
		Version:          version,
		Hardware:         hardware,
		DeviceIdentity:   identity,
		DeviceAttributes: attributes,
	}, nil
}

func readValue(fsBackend afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fsBackend, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

// readMultiValue parses a "key=value" per line file into a
// MetadataValue, accumulating repeated keys.
func readMultiValue(fsBackend afero.Fs, path string) (MetadataValue, error) {
	f, err := fsBackend.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return MetadataValue{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := MetadataValue{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed metadata line: %q", line)
		}

		out[k] = append(out[k], v)
	}

	return out, scanner.Err()
}

// Keys returns the sorted keys of a MetadataValue, useful for
// deterministic serialization.
func (m MetadataValue) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SupportsHardware reports whether hw is in the given set, treating an
// empty set as "supports anything" (used by packages with no hardware
// restriction).
func SupportsHardware(supported []string, hw string) bool {
	if len(supported) == 0 {
		return true
	}

	for _, s := range supported {
		if s == hw {
			return true
		}
	}

	return false
}
