/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package updatepackage is the parsed representation of a probe
// response: package-uid, supported hardware, and the two parallel
// per-bank object lists.
package updatepackage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/OSSystems/updatehub/object"
)

// Package is the immutable, parsed form of an update probe response.
// It lives from a successful Probe until EntryPoint is re-entered or
// until after Reboot.
type Package struct {
	ProductUID       string
	SupportedHardware []string
	// Objects maps bank (0 or 1) to its ordered object list. Invariant
	// (spec.md §3): Objects[0] and Objects[1] carry identical
	// sha256sums in the same order; only the mode-specific target
	// fields differ between banks.
	Objects map[int][]object.Descriptor

	raw []byte
}

// wireObject mirrors the JSON shape of one object entry in a probe
// response body.
type wireObject struct {
	Mode        string `json:"mode"`
	Filename    string `json:"filename"`
	Sha256sum   string `json:"sha256sum"`
	Size        int64  `json:"size"`
	TargetType  string `json:"target-type,omitempty"`
	Target      string `json:"target,omitempty"`
	Filesystem  string `json:"filesystem,omitempty"`
	TargetPath  string `json:"target-path,omitempty"`
	Flags       string `json:"mount-options,omitempty"`
}

// wirePackage mirrors the JSON shape of a probe response body, per
// spec.md §6.
type wirePackage struct {
	ProductUID        string         `json:"product-uid"`
	SupportedHardware []string       `json:"supported-hardware,omitempty"`
	Objects           [][]wireObject `json:"objects"`
}

// Parse decodes raw (the bytes of a probe response body) into a
// Package and computes its package-uid.
func Parse(raw []byte) (*Package, error) {
	var wp wirePackage
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, fmt.Errorf("failed to parse update package: %w", err)
	}

	if len(wp.Objects) < 1 || len(wp.Objects) > 2 {
		return nil, fmt.Errorf("update package must have 1 or 2 object lists, found %d", len(wp.Objects))
	}

	objects := make(map[int][]object.Descriptor, len(wp.Objects))
	for bank, list := range wp.Objects {
		descriptors := make([]object.Descriptor, 0, len(list))
		for _, o := range list {
			descriptors = append(descriptors, object.Descriptor{
				Filename:    o.Filename,
				Sha256sum:   o.Sha256sum,
				Size:        o.Size,
				InstallMode: o.Mode,
				TargetType:  o.TargetType,
				Target:      o.Target,
				Filesystem:  o.Filesystem,
				TargetPath:  o.TargetPath,
				Flags:       o.Flags,
			})
		}
		objects[bank] = descriptors
	}

	if len(objects) == 2 {
		if len(objects[0]) != len(objects[1]) {
			return nil, fmt.Errorf("objects[0] and objects[1] must have the same length, found %d and %d", len(objects[0]), len(objects[1]))
		}
		for i, a := range objects[0] {
			b := objects[1][i]
			if a.Sha256sum != b.Sha256sum {
				return nil, fmt.Errorf("objects[0][%d] and objects[1][%d] sha256sum mismatch", i, i)
			}
		}
	}

	return &Package{
		ProductUID:        wp.ProductUID,
		SupportedHardware: wp.SupportedHardware,
		Objects:           objects,
		raw:               raw,
	}, nil
}

// PackageUID is the sha256 over the canonical JSON encoding of the
// package, per spec.md §3 and SPEC_FULL.md §4's resolved canonicalization
// Open Question.
func (p *Package) PackageUID() string {
	sum := sha256.Sum256(Canonicalize(p.raw))
	return hex.EncodeToString(sum[:])
}

// Canonicalize produces the deterministic byte encoding this repo
// hashes for both PackageUID and signature verification: the raw JSON
// decoded into a generic map[string]any and re-marshaled. Go's
// json.Marshal already emits map keys in sorted order, which gives a
// stable, canonical form without a third-party canonical-JSON library.
func Canonicalize(raw []byte) []byte {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Parse already validated raw as JSON; this should not happen,
		// but fall back to the raw bytes rather than panicking.
		return raw
	}

	canonical, err := json.Marshal(sortedValue(generic))
	if err != nil {
		return raw
	}
	return canonical
}

// sortedValue recursively normalizes map/slice values so nested maps
// also marshal with sorted keys (json.Marshal sorts top-level map keys
// but a value that is itself a map is marshaled independently, which
// already sorts its own keys — this pass exists purely to walk slices
// of maps, where Go's encoder processes each element independently and
// correctly, so no element reordering is required here beyond letting
// the encoder proceed).
func sortedValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedValue(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return val
	}
}

// FilterObjects returns the descriptors in bank whose current status
// (computed against dir) equals want.
func FilterObjects(fsBackend afero.Fs, dir string, descriptors []object.Descriptor, want object.Status) ([]object.Descriptor, error) {
	out := make([]object.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		status, err := object.ComputeStatus(fsBackend, dir, d)
		if err != nil {
			return nil, err
		}
		if status == want {
			out = append(out, d)
		}
	}
	return out, nil
}

// AllReady reports whether every descriptor in the list is Ready.
func AllReady(fsBackend afero.Fs, dir string, descriptors []object.Descriptor) (bool, error) {
	for _, d := range descriptors {
		status, err := object.ComputeStatus(fsBackend, dir, d)
		if err != nil {
			return false, err
		}
		if status != object.Ready {
			return false, nil
		}
	}
	return true, nil
}
