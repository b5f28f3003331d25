/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package callback builds the executable-backed callbacks spec.md
// §4.1 and §4.5 describe: optional scripts under firmware.metadata_path
// whose stdout is parsed for a Continue/Cancel decision. It looks for
// them in the same metadata directory metadata.FromPath reads, and
// uses the same overridable-exec.Command pattern startup.runReboot and
// updatehub.runReboot use for the reboot binary.
package callback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/OSSystems/updatehub/startup"
	"github.com/OSSystems/updatehub/updatehub"
)

const (
	stateChangeScript = "state-change-callback"
	validateScript    = "validate-callback"
	rollbackScript    = "rollback-callback"
)

// runCommand is exec.Command(name, arg...).Output, exposed as a var so
// tests can stub it without a real executable on disk.
var runCommand = func(name string, arg ...string) ([]byte, error) {
	return exec.Command(name, arg...).Output()
}

// statFile is os.Stat, exposed as a var for the same reason.
var statFile = os.Stat

// parseDecision reads stdout for the first non-blank line and expects
// it to read "Continue" or "Cancel", case-insensitively. Anything
// else, including no output at all, is an error.
func parseDecision(stdout []byte) (bool, error) {
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "continue":
			return true, nil
		case "cancel":
			return false, nil
		}
		return false, fmt.Errorf("callback script produced unrecognized output %q", line)
	}
	return false, errors.New("callback script produced no output")
}

// run looks for script under metadataPath and, if present, executes
// it with arg and parses its decision. A missing script reports
// configured=false so callers can treat "nothing installed" as
// always-Continue rather than an error.
func run(metadataPath, script string, arg ...string) (proceed bool, configured bool, err error) {
	path := filepath.Join(metadataPath, script)

	if _, statErr := statFile(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return true, false, nil
		}
		return false, false, statErr
	}

	stdout, err := runCommand(path, arg...)
	if err != nil {
		return false, true, fmt.Errorf("%s failed: %w", script, err)
	}

	proceed, err = parseDecision(stdout)
	return proceed, true, err
}

// NewStateChangeCallback builds the spec.md §4.1 state_change_callback
// gate consulted by updatehub.Advance for every reportable state, from
// the executable at metadataPath/state-change-callback. The state's
// name is passed as the script's sole argument. A missing script
// always continues.
func NewStateChangeCallback(metadataPath string) func(stateName string) (updatehub.CallbackTransition, error) {
	return func(stateName string) (updatehub.CallbackTransition, error) {
		proceed, configured, err := run(metadataPath, stateChangeScript, stateName)
		if err != nil {
			return updatehub.CallbackContinue, err
		}
		if !configured || proceed {
			return updatehub.CallbackContinue, nil
		}
		return updatehub.CallbackCancel, nil
	}
}

// NewValidateCallback builds the spec.md §4.5 validate_callback
// startup.Run consults from the executable at
// metadataPath/validate-callback. A missing script always continues.
func NewValidateCallback(metadataPath string) startup.Callback {
	return func() (bool, error) {
		proceed, _, err := run(metadataPath, validateScript)
		return proceed, err
	}
}

// NewRollbackCallback builds the spec.md §4.5 rollback_callback
// startup.Run runs after swapping back to the previous bank, from the
// executable at metadataPath/rollback-callback. A missing script is a
// no-op.
func NewRollbackCallback(metadataPath string) startup.Callback {
	return func() (bool, error) {
		proceed, _, err := run(metadataPath, rollbackScript)
		return proceed, err
	}
}
