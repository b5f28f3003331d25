/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package settings loads the read-only system configuration the agent
// is started with.
package settings

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-ini/ini"
)

// DefaultPath is where the agent looks for its configuration file when
// none is given explicitly.
const DefaultPath = "/etc/updatehub.conf"

// Settings is read once at startup and never mutated afterwards; no
// state transition is allowed to write to it.
type Settings struct {
	Network  Network
	Storage  Storage
	Polling  Polling
	Update   Update
	Firmware Firmware
}

// Network holds the cloud server address and the local control API's
// listen socket.
type Network struct {
	ServerAddress string `ini:"ServerAddress"`
	ListenSocket  string `ini:"ListenSocket"`
}

// Storage controls whether the agent is allowed to persist
// RuntimeSettings and where it keeps them.
type Storage struct {
	ReadOnly            bool   `ini:"ReadOnly"`
	RuntimeSettingsPath string `ini:"RuntimeSettingsPath"`
}

// Polling controls the automatic probe schedule.
type Polling struct {
	Enabled  bool          `ini:"Enabled"`
	Interval time.Duration `ini:"-"`
}

// Update controls where objects are downloaded to and which install
// modes the device's object registry accepts.
type Update struct {
	DownloadDir         string   `ini:"DownloadDir"`
	SupportedInstallModes []string `ini:"-"`
}

// Firmware points at the directory the device's firmware metadata (and
// optional state-change/validate/rollback callbacks) lives in.
type Firmware struct {
	MetadataPath string `ini:"MetadataPath"`
}

// Default returns the agent's built-in defaults, used whenever no
// configuration file exists at the requested path.
func Default() Settings {
	return Settings{
		Network: Network{
			ServerAddress: "https://api.updatehub.io",
			ListenSocket:  "localhost:8080",
		},
		Storage: Storage{
			ReadOnly:            false,
			RuntimeSettingsPath: "/var/lib/updatehub/runtime_settings.conf",
		},
		Polling: Polling{
			Enabled:  true,
			Interval: 24 * time.Hour,
		},
		Update: Update{
			DownloadDir:           "/tmp/updatehub",
			SupportedInstallModes: []string{"copy", "flash", "imxkobs", "raw", "tarball", "ubifs"},
		},
		Firmware: Firmware{
			MetadataPath: "/usr/share/updatehub",
		},
	}
}

// Load reads path if it exists, falling back to Default() otherwise,
// and validates the two cross-field invariants spec.md requires:
// polling.interval >= 60s, and server-address carries a scheme.
func Load(path string) (Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	} else if err != nil {
		return Settings{}, err
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	out := Default()

	if err := cfg.Section("Network").MapTo(&out.Network); err != nil {
		return Settings{}, err
	}
	if err := cfg.Section("Storage").MapTo(&out.Storage); err != nil {
		return Settings{}, err
	}
	if err := cfg.Section("Update").MapTo(&out.Update); err != nil {
		return Settings{}, err
	}
	if err := cfg.Section("Firmware").MapTo(&out.Firmware); err != nil {
		return Settings{}, err
	}

	if k := cfg.Section("Polling").Key("Enabled"); k.String() != "" {
		out.Polling.Enabled, err = k.Bool()
		if err != nil {
			return Settings{}, fmt.Errorf("invalid Polling.Enabled: %w", err)
		}
	}
	if k := cfg.Section("Polling").Key("Interval"); k.String() != "" {
		out.Polling.Interval, err = parseDuration(k.String())
		if err != nil {
			return Settings{}, fmt.Errorf("invalid Polling.Interval: %w", err)
		}
	}
	if k := cfg.Section("Update").Key("SupportedInstallModes"); k.String() != "" {
		out.Update.SupportedInstallModes = strings.Split(k.String(), ",")
	}

	if out.Polling.Interval < 60*time.Second {
		return Settings{}, fmt.Errorf("invalid polling interval %s: must be >= 60s", out.Polling.Interval)
	}

	if !strings.HasPrefix(out.Network.ServerAddress, "http://") &&
		!strings.HasPrefix(out.Network.ServerAddress, "https://") {
		return Settings{}, fmt.Errorf("invalid server address %q: must start with http:// or https://", out.Network.ServerAddress)
	}

	return out, nil
}

// parseDuration accepts the suffixes spec.md §6 requires: s/m/h/d. A
// bare integer is treated as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	suffix := s[len(s)-1]
	var unit time.Duration
	numPart := s

	switch suffix {
	case 's':
		unit, numPart = time.Second, s[:len(s)-1]
	case 'm':
		unit, numPart = time.Minute, s[:len(s)-1]
	case 'h':
		unit, numPart = time.Hour, s[:len(s)-1]
	case 'd':
		unit, numPart = 24*time.Hour, s[:len(s)-1]
	default:
		unit = time.Second
	}

	var n int64
	if _, err := fmt.Sscanf(numPart, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	return time.Duration(n) * unit, nil
}
