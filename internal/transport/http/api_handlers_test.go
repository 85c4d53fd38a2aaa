package http

import (
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/betairc-server/internal/config"
	"github.com/vovakirdan/betairc-server/internal/core"
	"github.com/vovakirdan/betairc-server/internal/transport/tcp"
)

func newTestServer(t *testing.T) (*core.UserRegistry, *core.ChannelRegistry, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	channels := core.NewChannelRegistry(cfg.HistorySize, zerolog.Nop())
	users := core.NewUserRegistry(channels, zerolog.Nop())
	dispatcher := core.NewDispatcher(users, channels, nil, cfg.MaxMessageLen, zerolog.Nop())
	tcpSrv := tcp.New(cfg, users, dispatcher, zerolog.Nop())

	logger := zerolog.Nop()
	srv := NewServer(cfg, users, channels, tcpSrv, &logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return users, channels, ts
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := stdhttp.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var obj map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&obj))
	return obj
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t)
	obj := getJSON(t, ts.URL+"/healthz", 200)
	assert.Equal(t, "ok", obj["status"])
}

func TestAPIChannels(t *testing.T) {
	users, channels, ts := newTestServer(t)
	channels.Seed("#general", "General discussion")

	sess := core.NewSession(8, "test")
	_, err := users.Register("alice", sess, false)
	require.NoError(t, err)
	_, err = users.JoinChannel("alice", "#general")
	require.NoError(t, err)

	obj := getJSON(t, ts.URL+"/api/channels", 200)
	list, ok := obj["channels"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	ch := list[0].(map[string]any)
	assert.Equal(t, "#general", ch["name"])
	assert.Equal(t, "General discussion", ch["topic"])
	assert.Equal(t, float64(1), ch["members"])
}

func TestAPIMembers(t *testing.T) {
	users, _, ts := newTestServer(t)

	sess := core.NewSession(8, "test")
	_, err := users.Register("alice", sess, false)
	require.NoError(t, err)
	_, err = users.JoinChannel("alice", "#general")
	require.NoError(t, err)

	// The '#' may be omitted in the path segment.
	obj := getJSON(t, ts.URL+"/api/channels/general/members", 200)
	assert.Equal(t, "#general", obj["channel"])
	assert.Equal(t, []any{"alice"}, obj["members"])

	getJSON(t, ts.URL+"/api/channels/ghost/members", 404)
}

func TestAPIUsers(t *testing.T) {
	users, _, ts := newTestServer(t)

	sess := core.NewSession(8, "test")
	_, err := users.Register("admin1", sess, true)
	require.NoError(t, err)

	obj := getJSON(t, ts.URL+"/api/users", 200)
	list := obj["users"].([]any)
	require.Len(t, list, 1)
	u := list[0].(map[string]any)
	assert.Equal(t, "admin1", u["nickname"])
	assert.Equal(t, true, u["is_admin"])
}
