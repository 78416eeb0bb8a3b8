package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop_manager/internal/logbus"
)

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(u, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) logbus.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg logbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestReplayThenLiveWithTypeFilter(t *testing.T) {
	bus := logbus.New(10)
	defer bus.Close()
	bus.Log("info", "before", nil)
	bus.TaskStatus(logbus.TaskStatusEvent{ID: "t1", Status: "pending"})

	srv := httptest.NewServer(NewHandler(bus, nil, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv, "?types="+logbus.TypeTaskStatus, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, logbus.TypeTaskStatus, first.Type)

	bus.Log("info", "filtered out", nil)
	bus.TaskStatus(logbus.TaskStatusEvent{ID: "t1", Status: "running"})

	live := readMessage(t, conn)
	assert.Equal(t, logbus.TypeTaskStatus, live.Type)
	assert.Equal(t, "running", live.Data.(map[string]any)["status"])
}

func TestRejectsUnknownOrigin(t *testing.T) {
	bus := logbus.New(10)
	defer bus.Close()
	srv := httptest.NewServer(NewHandler(bus, []string{"http://dash.local"}, nil))
	defer srv.Close()

	_, resp, err := dial(t, srv, "", http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, "", http.Header{"Origin": {"http://DASH.local"}})
	require.NoError(t, err)
	conn.Close()
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, []string{"a", "b"}, parseTypes(" a, ,b "))
}
