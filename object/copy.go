/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package object

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// CopyObject is the "copy" install mode: it writes the downloaded
// object verbatim to TargetPath. It is the one concrete, testable
// installer this repo ships; the rest (flash, raw, tarball, ubifs,
// imxkobs) are external collaborators per spec.md §1.
type CopyObject struct {
	fsBackend afero.Fs
	descriptor Descriptor
}

// NewCopyObject is a Constructor for the "copy" install mode.
func NewCopyObject(fsBackend afero.Fs, d Descriptor) (Object, error) {
	return &CopyObject{fsBackend: fsBackend, descriptor: d}, nil
}

// Descriptor returns the object's parsed metadata.
func (c *CopyObject) Descriptor() Descriptor { return c.descriptor }

// CheckRequirements creates TargetPath's parent directory if it does
// not exist yet.
func (c *CopyObject) CheckRequirements() error {
	if c.descriptor.TargetPath == "" {
		return nil
	}
	return c.fsBackend.MkdirAll(filepath.Dir(c.descriptor.TargetPath), 0o755)
}

// Setup is a no-op for the copy mode; it exists to satisfy Object.
func (c *CopyObject) Setup() error { return nil }

// Install copies the downloaded object from downloadDir to
// TargetPath.
func (c *CopyObject) Install(downloadDir string) error {
	src, err := c.fsBackend.Open(filepath.Join(downloadDir, c.descriptor.Sha256sum))
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := c.fsBackend.OpenFile(c.descriptor.TargetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Cleanup is a no-op for the copy mode; it exists to satisfy Object.
func (c *CopyObject) Cleanup() error { return nil }
