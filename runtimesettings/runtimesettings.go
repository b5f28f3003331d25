/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package runtimesettings is the persisted key/value record of retries,
// last-poll time, extra-poll interval, applied-package-uid, and the
// pending-bank marker that ties an in-flight installation to its
// target bank across a reboot.
package runtimesettings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-ini/ini"
	"github.com/spf13/afero"
)

// RuntimeSettings is mutated only by the stepper and flushed to disk
// after every mutation when persistence is enabled.
type RuntimeSettings struct {
	Last                   time.Time
	HasLast                bool
	ExtraInterval          time.Duration
	HasExtraInterval       bool
	Retries                int
	Now                    bool
	AppliedPackageUID      string
	UpgradeToInstallation  int
	HasUpgradeToInstallation bool

	path       string
	persist    bool
	fsBackend  afero.Fs
}

// Default returns the RuntimeSettings a missing file yields: all zero
// values except UpgradeToInstallation, which is -1 (no pending bank).
func Default() RuntimeSettings {
	return RuntimeSettings{UpgradeToInstallation: -1}
}

// Load reads path (via fsBackend) if it exists, or returns Default()
// otherwise. persist controls whether subsequent mutations made through
// the returned value's Save will actually hit disk (storage.read-only
// disables it).
func Load(fsBackend afero.Fs, path string, persist bool) (RuntimeSettings, error) {
	rs := Default()
	rs.path = path
	rs.persist = persist
	rs.fsBackend = fsBackend

	exists, err := afero.Exists(fsBackend, path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	if !exists {
		return rs, nil
	}

	data, err := afero.ReadFile(fsBackend, path)
	if err != nil {
		return RuntimeSettings{}, fmt.Errorf("failed to read runtime settings: %w", err)
	}

	cfg, err := ini.Load(data)
	if err != nil {
		return RuntimeSettings{}, fmt.Errorf("failed to parse runtime settings: %w", err)
	}

	polling := cfg.Section("Polling")
	if k := polling.Key("LastPoll"); k.String() != "" {
		t, err := time.Parse(time.RFC3339, k.String())
		if err != nil {
			return RuntimeSettings{}, fmt.Errorf("invalid LastPoll: %w", err)
		}
		rs.Last, rs.HasLast = t, true
	}
	if k := polling.Key("ExtraInterval"); k.String() != "" {
		secs, err := k.Int64()
		if err != nil {
			return RuntimeSettings{}, fmt.Errorf("invalid ExtraInterval: %w", err)
		}
		rs.ExtraInterval, rs.HasExtraInterval = time.Duration(secs)*time.Second, true
	}
	rs.Retries = polling.Key("Retries").MustInt(0)
	rs.Now = polling.Key("ForcePoll").MustBool(false)

	update := cfg.Section("Update")
	rs.AppliedPackageUID = update.Key("AppliedPackageUID").String()
	rs.UpgradeToInstallation = update.Key("UpgradeToInstallation").MustInt(-1)
	rs.HasUpgradeToInstallation = rs.UpgradeToInstallation != -1

	return rs, nil
}

// Save atomically replaces the file at rs.path with rs's current
// contents. It is a no-op when persistence was disabled at Load time.
func (rs *RuntimeSettings) Save() error {
	if !rs.persist {
		return nil
	}

	cfg := ini.Empty()

	polling, err := cfg.NewSection("Polling")
	if err != nil {
		return err
	}
	if rs.HasLast {
		polling.NewKey("LastPoll", rs.Last.UTC().Format(time.RFC3339))
	}
	if rs.HasExtraInterval {
		polling.NewKey("ExtraInterval", fmt.Sprintf("%d", int64(rs.ExtraInterval/time.Second)))
	}
	polling.NewKey("Retries", fmt.Sprintf("%d", rs.Retries))
	polling.NewKey("ForcePoll", fmt.Sprintf("%t", rs.Now))

	update, err := cfg.NewSection("Update")
	if err != nil {
		return err
	}
	update.NewKey("AppliedPackageUID", rs.AppliedPackageUID)
	upgradeTo := -1
	if rs.HasUpgradeToInstallation {
		upgradeTo = rs.UpgradeToInstallation
	}
	update.NewKey("UpgradeToInstallation", fmt.Sprintf("%d", upgradeTo))

	tmp := rs.path + ".tmp"
	if err := rs.fsBackend.MkdirAll(filepath.Dir(rs.path), 0o755); err != nil {
		return err
	}

	f, err := rs.fsBackend.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := cfg.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return rs.fsBackend.Rename(tmp, rs.path)
}

// SetLastPoll sets the last-poll timestamp and persists it.
func (rs *RuntimeSettings) SetLastPoll(t time.Time) error {
	rs.Last, rs.HasLast = t, true
	return rs.Save()
}

// SetExtraInterval sets the server-granted extra poll delay.
func (rs *RuntimeSettings) SetExtraInterval(d time.Duration) error {
	rs.ExtraInterval, rs.HasExtraInterval = d, true
	return rs.Save()
}

// ClearExtraInterval removes the extra-poll interval once Poll has
// consumed it. See SPEC_FULL.md §4's resolved Open Question: this repo
// clears it the moment Poll acts on it, not when Probe later completes.
func (rs *RuntimeSettings) ClearExtraInterval() error {
	rs.ExtraInterval, rs.HasExtraInterval = 0, false
	return rs.Save()
}

// IncRetries increments the probe-retry counter.
func (rs *RuntimeSettings) IncRetries() error {
	rs.Retries++
	return rs.Save()
}

// ClearRetries resets the probe-retry counter to zero.
func (rs *RuntimeSettings) ClearRetries() error {
	rs.Retries = 0
	return rs.Save()
}

// ForcePoll sets the force-poll flag, consumed and cleared by the next
// Poll step.
func (rs *RuntimeSettings) ForcePoll() error {
	rs.Now = true
	return rs.Save()
}

// ClearForcePoll clears the force-poll flag.
func (rs *RuntimeSettings) ClearForcePoll() error {
	rs.Now = false
	return rs.Save()
}

// SetAppliedPackageUID records the package-uid that was just installed.
func (rs *RuntimeSettings) SetAppliedPackageUID(uid string) error {
	rs.AppliedPackageUID = uid
	return rs.Save()
}

// SetUpgradeToInstallation marks bank as the target of an in-flight
// installation, persisted so a reboot can find it again.
func (rs *RuntimeSettings) SetUpgradeToInstallation(bank int) error {
	rs.UpgradeToInstallation, rs.HasUpgradeToInstallation = bank, true
	return rs.Save()
}

// ResetInstallationSettings clears both upgrade-to-installation and
// applied-package-uid, per spec.md §4.5, making the "have I already
// installed this package?" check in Validation robust across rollbacks.
func (rs *RuntimeSettings) ResetInstallationSettings() error {
	rs.UpgradeToInstallation, rs.HasUpgradeToInstallation = -1, false
	rs.AppliedPackageUID = ""
	return rs.Save()
}

// ResetTransient clears the force-poll flag on entry to the Error
// state, per spec.md §4.1.
func (rs *RuntimeSettings) ResetTransient() error {
	return rs.ClearForcePoll()
}
