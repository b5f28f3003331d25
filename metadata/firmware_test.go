/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package metadata_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OSSystems/updatehub/metadata"
)

func TestFromPathReadsPlainValues(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/md/product-uid", []byte("acme-widget\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/md/version", []byte("1.2.3"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/md/hardware", []byte("board-a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/md/device-identity", []byte("mac=aa:bb\nmac=cc:dd\nserial=123\n"), 0o644))

	fw, err := metadata.FromPath(fs, "/md")
	require.NoError(t, err)

	assert.NotEmpty(t, fw.ProductUID)
	assert.Equal(t, "1.2.3", fw.Version)
	assert.Equal(t, "board-a", fw.Hardware)
	assert.Equal(t, []string{"aa:bb", "cc:dd"}, fw.DeviceIdentity["mac"])
	assert.Equal(t, []string{"123"}, fw.DeviceIdentity["serial"])
}

func TestFromPathToleratesMissingFiles(t *testing.T) {
	fs := afero.NewMemMapFs()

	fw, err := metadata.FromPath(fs, "/md")
	require.NoError(t, err)

	assert.Equal(t, "", fw.Version)
	assert.Empty(t, fw.DeviceIdentity)
}

func TestFromPathRejectsMalformedIdentityLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/md/device-identity", []byte("not-a-key-value-line"), 0o644))

	_, err := metadata.FromPath(fs, "/md")
	assert.Error(t, err)
}

func TestSupportsHardware(t *testing.T) {
	assert.True(t, metadata.SupportsHardware(nil, "anything"))
	assert.True(t, metadata.SupportsHardware([]string{"board-a", "board-b"}, "board-b"))
	assert.False(t, metadata.SupportsHardware([]string{"board-a"}, "board-z"))
}

func TestMetadataValueKeysAreSorted(t *testing.T) {
	m := metadata.MetadataValue{"zeta": {"1"}, "alpha": {"2"}}
	assert.Equal(t, []string{"alpha", "zeta"}, m.Keys())
}
