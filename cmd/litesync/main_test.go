package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/litesync/litesync.go/internal/fakepeer"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, out *bytes.Buffer, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"put", "get", "delete", "watch", "sync"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	dir := cmd.PersistentFlags().Lookup("dir")
	require.NotNil(t, dir)
	assert.Equal(t, "d", dir.Shorthand)
	assert.Equal(t, ".", dir.DefValue)
}

func TestDocumentSession(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	steps := [][]string{
		{"put", "users", "alice", `{"name":"Alice","age":30}`},
		{"put", "users", "alice", `{"name":"Alice","age":31}`},
		{"put", "users", "bob", `{"name":"Bob","tags":["x","y"]}`},
		{"get", "users", "alice"},
		{"get", "users", "bob"},
		{"delete", "users", "alice"},
	}
	for _, step := range steps {
		require.NoError(t, run(t, &out, append([]string{"--dir", dir}, step...)...), "%v", step)
	}

	golden(t).Assert(t, "session", out.Bytes())

	err := run(t, &out, "--dir", dir, "get", "users", "alice")
	assert.ErrorIs(t, err, constants.ErrNotFound)
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	var out bytes.Buffer
	err := run(t, &out, "--dir", t.TempDir(), "put", "users", "alice", "{")
	assert.ErrorContains(t, err, "invalid document body")
	assert.Empty(t, out.String())
}

func TestSyncPull(t *testing.T) {
	peer := fakepeer.New("127.0.0.1:0")
	require.NoError(t, peer.Start())
	defer peer.Stop()

	peer.Put(&models.Document{Collection: "users", ID: "carol", RevID: "1-ca", Generation: 1, Body: map[string]any{"age": int64(52)}})
	peer.Put(&models.Document{Collection: "users", ID: "bob", RevID: "1-b0", Generation: 1, Body: map[string]any{"age": int64(41)}})

	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(t, &out, "--dir", dir, "sync", "--endpoint", peer.URL(), "--collection", "users", "--type", "pull"))
	golden(t).Assert(t, "sync_pull", out.Bytes())

	out.Reset()
	require.NoError(t, run(t, &out, "--dir", dir, "get", "--rev", "users", "bob"))
	assert.Equal(t, "rev 1-b0\n{\n  \"age\": 41\n}\n", out.String())
}

func TestSyncRejectsUnknownType(t *testing.T) {
	var out bytes.Buffer
	err := run(t, &out, "--dir", t.TempDir(), "sync", "--endpoint", "ws://127.0.0.1:1", "--type", "sideways")
	assert.ErrorContains(t, err, "invalid --type")
}

func TestWatchStopsAfterDuration(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(t, &out, "--dir", t.TempDir(), "watch", "users", "--for", "50ms"))
	assert.Empty(t, out.String())
}

func TestConfigLogLevelUnlessFlagGiven(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "litesync.yaml")
	require.NoError(t, os.WriteFile(config, []byte(fmt.Sprintf("directory: %s\nlog_level: debug\n", dir)), 0o600))

	put := func(args ...string) string {
		var out, stderr bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetErr(&stderr)
		cmd.SetArgs(append(args, "put", "users", "alice", `{"n":1}`))
		require.NoError(t, cmd.Execute())
		return stderr.String()
	}

	assert.Contains(t, put("--config", config), "database closed")
	assert.NotContains(t, put("--config", config, "--log-level", "warn"), "database closed")
}
