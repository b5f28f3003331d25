/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package updatehub

import "fmt"

// Kind enumerates the error kinds spec.md §7 requires the core to
// distinguish. Every TransitionError carries one.
type Kind int

const (
	// KindObjectsNotReady means Download returned with at least one
	// object not in the Ready status.
	KindObjectsNotReady Kind = iota
	KindSignatureNotFound
	KindInvalidSignature
	KindIncompatibleHardware
	KindFirmwareMetadata
	KindInstallation
	KindRuntimeSettings
	KindUpdatePackage
	KindCloudClient
	KindIO
	KindProcess
	KindUncompress
	KindSerde
)

func (k Kind) String() string {
	switch k {
	case KindObjectsNotReady:
		return "objects not ready"
	case KindSignatureNotFound:
		return "signature not found"
	case KindInvalidSignature:
		return "invalid signature"
	case KindIncompatibleHardware:
		return "incompatible hardware"
	case KindFirmwareMetadata:
		return "firmware metadata error"
	case KindInstallation:
		return "installation error"
	case KindRuntimeSettings:
		return "runtime settings error"
	case KindUpdatePackage:
		return "update package error"
	case KindCloudClient:
		return "cloud client error"
	case KindIO:
		return "io error"
	case KindProcess:
		return "process error"
	case KindUncompress:
		return "uncompress error"
	case KindSerde:
		return "serde error"
	default:
		return "unknown error"
	}
}

// TransitionError is the error type every state transition returns.
// It carries a stable Kind (for routing/testing) and a cause chain
// suitable for the server report's error_message field.
type TransitionError struct {
	kind  Kind
	cause error
}

// NewTransitionError builds a TransitionError of kind wrapping cause.
func NewTransitionError(kind Kind, cause error) *TransitionError {
	return &TransitionError{kind: kind, cause: cause}
}

// Kind returns the error's stable kind.
func (e *TransitionError) Kind() Kind { return e.kind }

// Error implements the error interface with a Display form suitable
// for the server report.
func (e *TransitionError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

// Unwrap exposes the cause chain for errors.Is/errors.As.
func (e *TransitionError) Unwrap() error { return e.cause }
