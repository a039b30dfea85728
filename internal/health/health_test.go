package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/metrics"
	"github.com/stellarlinkco/warden/internal/strikes"
)

type fakeInfo struct {
	name  string
	chats int
}

func (f fakeInfo) BotName() string { return f.name }
func (f fakeInfo) Chats() int      { return f.chats }

func newTestServer(t *testing.T, info PlatformInfo) (*Server, dispatch.State, *metrics.Metrics) {
	t.Helper()
	state := dispatch.State{
		Ledger:  strikes.NewLedger(),
		Lexicon: lexicon.Default(),
		Toggles: dispatch.NewToggles(true, false),
	}
	m := metrics.New()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	now := func() time.Time {
		calls++
		if calls == 1 {
			return clock
		}
		return clock.Add(90 * time.Second)
	}
	return New("127.0.0.1", 0, state, info, m, WithClock(now)), state, m
}

func TestBanner(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, Banner, string(body))
}

func TestStatus(t *testing.T) {
	s, state, _ := newTestServer(t, fakeInfo{name: "@wardenbot", chats: 4})
	state.Ledger.Record("1", strikes.Caps)
	state.Ledger.Record("1", strikes.Harassment)
	state.Ledger.Record("2", strikes.BadWords)
	state.Toggles.SetCapsEnforcement(false)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, "@wardenbot", st.Bot)
	assert.Equal(t, 4, st.Chats)
	assert.False(t, st.CapsEnforcement)
	assert.Equal(t, 3, st.TotalStrikes)
	assert.Equal(t, 2, st.UsersWithStrikes)
	assert.Equal(t, int64(90), st.UptimeSeconds)
}

func TestStatus_NotConnected(t *testing.T) {
	s, _, _ := newTestServer(t, fakeInfo{})
	st := s.Snapshot()
	assert.Equal(t, "Not connected", st.Bot)
	assert.True(t, st.CapsEnforcement)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, m := newTestServer(t, nil)
	m.Strike("caps")

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `warden_strikes_total{category="caps"} 1`), string(body))
}

func TestStartShutdown(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool {
		return !strings.HasSuffix(s.Addr(), ":0")
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == 200
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Start())
}
