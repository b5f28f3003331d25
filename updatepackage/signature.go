/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatepackage

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Signature is the optional base64 blob returned in the UH-Signature
// response header, verified against a device-installed public key
// before any destructive operation.
type Signature struct {
	raw []byte
}

// ParseSignature decodes the base64 header value into a Signature.
func ParseSignature(header string) (Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return Signature{raw: raw}, nil
}

// Verify checks sig against the canonical bytes of pkg using the PEM
// public key in publicKeyPEM.
func (sig Signature) Verify(pkg *Package, publicKeyPEM []byte) error {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return fmt.Errorf("invalid public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key is not RSA")
	}

	digest := sha256.Sum256(Canonicalize(pkg.raw))
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig.raw); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}
