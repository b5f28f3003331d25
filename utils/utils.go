/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package utils holds small helpers shared across the agent that don't
// belong to any single subsystem.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// chunkSize bounds the memory used while hashing large objects.
const chunkSize = 8 * 1024

// FileSha256sum streams path through sha256 in chunkSize blocks and
// returns the hex digest.
func FileSha256sum(fsBackend afero.Fs, path string) (string, error) {
	f, err := fsBackend.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// MergeErrorList joins a slice of errors into a single error, or
// returns nil if the slice is empty.
func MergeErrorList(errorList []error) error {
	if len(errorList) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(errorList))
	for _, e := range errorList {
		msgs = append(msgs, e.Error())
	}

	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
