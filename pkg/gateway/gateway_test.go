package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geo-anchor/pkg/relocation"
)

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	gw := New(relocation.NewService(relocation.DefaultConfig(), nil, nil, nil), nil)
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)
	return gw, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthz(t *testing.T) {
	_, server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSampleStream(t *testing.T) {
	_, server := newTestGateway(t)
	conn := dial(t, server)

	require.NoError(t, conn.WriteJSON(map[string]float64{
		"latitude": 49.2781, "longitude": -122.9199,
	}))

	var first struct {
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		State     string `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, "PositionRecorded", first.Event)
	assert.Equal(t, "Settled", first.State)

	// ~150 m away: crossing.
	require.NoError(t, conn.WriteJSON(map[string]float64{
		"latitude": 49.2790, "longitude": -122.9180,
	}))

	var second struct {
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		State     string `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "BoundaryCrossed", second.Event)
	assert.Equal(t, "OutOfRange", second.State)
}

func TestInvalidSampleReportsError(t *testing.T) {
	_, server := newTestGateway(t)
	conn := dial(t, server)

	// JSON cannot carry NaN/Inf, so an out-of-range latitude exercises the
	// rejection path.
	require.NoError(t, conn.WriteJSON(map[string]float64{
		"latitude": 95, "longitude": -122.9199,
	}))

	var resp struct {
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Contains(t, resp.Error, "invalid position")
}

func TestSessionRegistry(t *testing.T) {
	gw, server := newTestGateway(t)
	assert.Equal(t, 0, gw.SessionCount())

	conn := dial(t, server)
	require.NoError(t, conn.WriteJSON(map[string]float64{
		"latitude": 49.2781, "longitude": -122.9199,
	}))
	var any map[string]interface{}
	require.NoError(t, conn.ReadJSON(&any))
	assert.Equal(t, 1, gw.SessionCount())
}

func TestMetricsExposed(t *testing.T) {
	_, server := newTestGateway(t)
	conn := dial(t, server)

	require.NoError(t, conn.WriteJSON(map[string]float64{
		"latitude": 49.2781, "longitude": -122.9199,
	}))
	var any map[string]interface{}
	require.NoError(t, conn.ReadJSON(&any))

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "geoanchor_samples_total")
	assert.Contains(t, string(body), "geoanchor_active_sessions 1")
}
