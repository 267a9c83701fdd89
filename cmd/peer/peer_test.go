package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/identity"
)

func TestFetchRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"R1","client_count":2}]`))
	}))
	defer srv.Close()

	cfg := &config.PeerConfig{RelayURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
	rooms, err := fetchRooms(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.EqualValues(t, "R1", rooms[0].ID)
	assert.Equal(t, 2, rooms[0].MemberCount)
}

func TestFetchRoomsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := &config.PeerConfig{RelayURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
	_, err := fetchRooms(context.Background(), cfg)
	assert.ErrorContains(t, err, "503")
}

func TestResolveProfile(t *testing.T) {
	ids := map[string]config.Identity{
		"tok-1": {UserID: "u1", Username: "alice", Default: "customer"},
		"tok-2": {UserID: "u2", Username: "mallory", Default: "no_access"},
	}

	p, err := resolveProfile(context.Background(), &config.PeerConfig{Room: "R1", Username: "anon"})
	require.NoError(t, err)
	assert.Equal(t, "anon", p.Username)

	p, err = resolveProfile(context.Background(), &config.PeerConfig{Room: "R1", Credential: "tok-1", Identities: ids})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = resolveProfile(context.Background(), &config.PeerConfig{Room: "R1", Credential: "tok-2", Identities: ids})
	assert.ErrorIs(t, err, identity.ErrAccessDenied)

	_, err = resolveProfile(context.Background(), &config.PeerConfig{Room: "R1"})
	assert.ErrorContains(t, err, "username is required")
}

func TestJoinFlagsBindToConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"rooms", "--relay", "ws://relay.example:9000/ws", "--log-level", "debug"})
	var got *config.PeerConfig
	rooms, _, err := root.Find([]string{"rooms"})
	require.NoError(t, err)
	rooms.RunE = func(cmd *cobra.Command, _ []string) error {
		got, err = loadConfig(cmd)
		return err
	}
	require.NoError(t, root.Execute())
	require.NotNil(t, got)
	assert.Equal(t, "ws://relay.example:9000/ws", got.RelayURL)
	assert.Equal(t, "debug", got.LogLevel)
	require.NoError(t, config.ApplyLogLevel("info"))
}
