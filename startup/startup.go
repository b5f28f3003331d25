/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package startup implements spec.md §4.5: on process start, before
// the stepper begins, validate a pending install or roll it back.
package startup

import (
	"fmt"
	"os/exec"

	"github.com/OSSystems/pkg/log"

	"github.com/OSSystems/updatehub/activeinactive"
	"github.com/OSSystems/updatehub/runtimesettings"
)

// Callback runs an external validate/rollback script and reports
// whether it asked to Continue or Cancel. A nil Callback is treated as
// always Continue.
type Callback func() (bool, error)

// runReboot invokes the platform reboot command. Exposed as a var so
// tests can stub it, the same pattern updatehub.runReboot uses for the
// Reboot state.
var runReboot = func() error {
	return exec.Command("reboot").Run()
}

// Run implements handle_startup_callbacks: if an installation is
// pending (runtime.upgrade-to-installation is set) and its target bank
// is the one we actually booted from, run validateCallback; on
// failure, swap back, run rollbackCallback, and reboot. Either way,
// reset_installation_settings runs before returning. Startup-callback
// failures are logged but do not abort startup unless they are
// bootloader errors, which are fatal (returned as err).
func Run(rs *runtimesettings.RuntimeSettings, aii activeinactive.Interface, validateCallback, rollbackCallback Callback) error {
	if !rs.HasUpgradeToInstallation {
		return nil
	}

	log.Info("booting from a recent installation")

	active, err := aii.Active()
	if err != nil {
		return fmt.Errorf("bootloader error reading active bank: %w", err)
	}

	if rs.UpgradeToInstallation == active {
		proceed := true
		if validateCallback != nil {
			proceed, err = validateCallback()
			if err != nil {
				log.Warn("validate callback failed: ", err)
			}
		}

		if proceed {
			if err := aii.Validate(); err != nil {
				return fmt.Errorf("bootloader error marking validated: %w", err)
			}
		} else {
			log.Warn("validate callback rejected the installation, rolling back")

			if err := aii.Swap(); err != nil {
				return fmt.Errorf("bootloader error swapping active bank: %w", err)
			}

			if rollbackCallback != nil {
				if _, err := rollbackCallback(); err != nil {
					log.Warn("rollback callback failed: ", err)
				}
			}

			if err := rs.ResetInstallationSettings(); err != nil {
				log.Warn("failed to reset installation settings before rollback reboot: ", err)
			}

			if err := runReboot(); err != nil {
				return fmt.Errorf("bootloader error triggering rollback reboot: %w", err)
			}
		}
	}

	return rs.ResetInstallationSettings()
}
