/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package runtimesettings_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OSSystems/updatehub/runtimesettings"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	fs := afero.NewMemMapFs()

	rs, err := runtimesettings.Load(fs, "/var/lib/updatehub/runtime_settings.conf", true)
	require.NoError(t, err)
	assert.False(t, rs.HasUpgradeToInstallation)
	assert.Equal(t, -1, rs.UpgradeToInstallation)
}

func TestSaveAndReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/var/lib/updatehub/runtime_settings.conf"

	rs, err := runtimesettings.Load(fs, path, true)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, rs.SetLastPoll(now))
	require.NoError(t, rs.IncRetries())
	require.NoError(t, rs.IncRetries())
	require.NoError(t, rs.SetExtraInterval(30*time.Minute))
	require.NoError(t, rs.SetAppliedPackageUID("abc123"))
	require.NoError(t, rs.SetUpgradeToInstallation(1))

	reloaded, err := runtimesettings.Load(fs, path, true)
	require.NoError(t, err)

	assert.True(t, reloaded.Last.Equal(now))
	assert.Equal(t, 2, reloaded.Retries)
	assert.Equal(t, 30*time.Minute, reloaded.ExtraInterval)
	assert.Equal(t, "abc123", reloaded.AppliedPackageUID)
	assert.True(t, reloaded.HasUpgradeToInstallation)
	assert.Equal(t, 1, reloaded.UpgradeToInstallation)
}

func TestResetInstallationSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	rs, err := runtimesettings.Load(fs, "/runtime.conf", true)
	require.NoError(t, err)

	require.NoError(t, rs.SetUpgradeToInstallation(0))
	require.NoError(t, rs.SetAppliedPackageUID("xyz"))

	require.NoError(t, rs.ResetInstallationSettings())
	assert.False(t, rs.HasUpgradeToInstallation)
	assert.Equal(t, "", rs.AppliedPackageUID)
}

func TestReadOnlyDoesNotPersist(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/runtime.conf"

	rs, err := runtimesettings.Load(fs, path, false)
	require.NoError(t, err)
	require.NoError(t, rs.IncRetries())

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
}
