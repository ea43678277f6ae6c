package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"submit"},
		{"registrations", "list"},
		{"counters", "show"},
		{"counters", "reset"},
		{"run", "server"},
		{"run", "worker"},
		{"test"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSubmitRequiresFile(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"submit", "--name", "Jean"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"file"`)
}

func TestGoTestArgs(t *testing.T) {
	assert.Equal(t, []string{"test", "./..."}, goTestArgs(nil, false, false))
	assert.Equal(t, []string{"test", "-race", "-cover", "./internal/..."}, goTestArgs([]string{"./internal/..."}, true, true))
}

func TestReadSelectedFile(t *testing.T) {
	dir := t.TempDir()
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	path := filepath.Join(dir, "proof.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	file, err := readSelectedFile(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "proof.png", file.Name)
	assert.Equal(t, "image/png", file.ContentType)
	assert.Equal(t, int64(len(png)), file.Size)

	file, err = readSelectedFile(path, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(17), file.Size)

	_, err = readSelectedFile(filepath.Join(dir, "missing.png"), 1024)
	assert.Error(t, err)
}

func clearProofDropEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROOFDROP_CONFIG", "PROOFDROP_PROOF_BACKEND", "PROOFDROP_IMAGEHOST_KEY",
		"PROOFDROP_S3_ENDPOINT", "PROOFDROP_S3_ACCESS_KEY", "PROOFDROP_S3_SECRET_KEY",
		"PROOFDROP_DATABASE_URL", "PROOFDROP_REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("PROOFDROP_LOG_LEVEL", "error")
}

func TestRegistrationsListWithoutUploadCredentials(t *testing.T) {
	clearProofDropEnv(t)
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs([]string{"registrations", "list"})
	root.SetOut(&out)
	root.SetErr(io.Discard)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "SECURE24H")
}

func TestCountersShowWithoutUploadCredentials(t *testing.T) {
	clearProofDropEnv(t)
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs([]string{"counters", "show"})
	root.SetOut(&out)
	root.SetErr(io.Discard)

	require.NoError(t, root.Execute())
	var v struct {
		Visitors int `json:"visitors"`
		Spots    int `json:"spots"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, 202, v.Visitors)
	assert.Equal(t, 44, v.Spots)
}

func TestSubmitStillNeedsUploadCredentials(t *testing.T) {
	clearProofDropEnv(t)
	path := filepath.Join(t.TempDir(), "proof.png")
	require.NoError(t, os.WriteFile(path, append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...), 0o600))

	root := newRootCommand()
	root.SetArgs([]string{"submit", "--name", "Jean", "--file", path})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROOFDROP_IMAGEHOST_KEY")
}
