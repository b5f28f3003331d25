/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package callback

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OSSystems/updatehub/updatehub"
)

func stubScript(t *testing.T, stdout string, runErr error) {
	t.Helper()

	prevStat, prevRun := statFile, runCommand
	statFile = func(string) (os.FileInfo, error) { return nil, nil }
	runCommand = func(name string, arg ...string) ([]byte, error) {
		if runErr != nil {
			return nil, runErr
		}
		return []byte(stdout), nil
	}
	t.Cleanup(func() { statFile, runCommand = prevStat, prevRun })
}

func stubMissingScript(t *testing.T) {
	t.Helper()

	prev := statFile
	statFile = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	t.Cleanup(func() { statFile = prev })
}

func TestStateChangeCallbackContinuesWhenScriptMissing(t *testing.T) {
	stubMissingScript(t)

	cb := NewStateChangeCallback("/metadata")
	transition, err := cb("download")
	require.NoError(t, err)
	assert.Equal(t, updatehub.CallbackContinue, transition)
}

func TestStateChangeCallbackContinuesOnContinueOutput(t *testing.T) {
	stubScript(t, "Continue\n", nil)

	cb := NewStateChangeCallback("/metadata")
	transition, err := cb("download")
	require.NoError(t, err)
	assert.Equal(t, updatehub.CallbackContinue, transition)
}

func TestStateChangeCallbackCancelsOnCancelOutput(t *testing.T) {
	stubScript(t, "Cancel\n", nil)

	cb := NewStateChangeCallback("/metadata")
	transition, err := cb("install")
	require.NoError(t, err)
	assert.Equal(t, updatehub.CallbackCancel, transition)
}

func TestStateChangeCallbackErrorsOnUnrecognizedOutput(t *testing.T) {
	stubScript(t, "maybe\n", nil)

	cb := NewStateChangeCallback("/metadata")
	_, err := cb("install")
	assert.Error(t, err)
}

func TestStateChangeCallbackErrorsWhenScriptFails(t *testing.T) {
	stubScript(t, "", errors.New("exit status 1"))

	cb := NewStateChangeCallback("/metadata")
	_, err := cb("install")
	assert.Error(t, err)
}

func TestValidateCallbackContinuesWhenScriptMissing(t *testing.T) {
	stubMissingScript(t)

	proceed, err := NewValidateCallback("/metadata")()
	require.NoError(t, err)
	assert.True(t, proceed)
}

func TestValidateCallbackReportsCancelOutput(t *testing.T) {
	stubScript(t, "Cancel\n", nil)

	proceed, err := NewValidateCallback("/metadata")()
	require.NoError(t, err)
	assert.False(t, proceed)
}

func TestRollbackCallbackRunsConfiguredScript(t *testing.T) {
	var gotName string
	prevStat, prevRun := statFile, runCommand
	statFile = func(string) (os.FileInfo, error) { return nil, nil }
	runCommand = func(name string, arg ...string) ([]byte, error) {
		gotName = name
		return []byte("Continue\n"), nil
	}
	t.Cleanup(func() { statFile, runCommand = prevStat, prevRun })

	proceed, err := NewRollbackCallback("/metadata")()
	require.NoError(t, err)
	assert.True(t, proceed)
	assert.Equal(t, "/metadata/rollback-callback", gotName)
}
