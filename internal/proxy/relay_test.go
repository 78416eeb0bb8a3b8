package proxy

import (
	"bufio"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstreamProxy accepts only requests carrying the expected credentials. It
// answers plain requests itself and echoes tunnel bytes back.
func upstreamProxy(t *testing.T, user, pass string) *httptest.Server {
	t.Helper()
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") != want {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		if r.Method != http.MethodConnect {
			_, _ = io.WriteString(w, "via upstream: "+r.URL.Host)
			return
		}
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\n")
		for {
			line, err := buf.ReadString('\n')
			if err != nil {
				return
			}
			if _, err := io.WriteString(conn, "echo "+line); err != nil {
				return
			}
		}
	}))
}

func TestRelayForwardsPlainHTTPWithAuth(t *testing.T) {
	up := upstreamProxy(t, "alice", "s3cret")
	defer up.Close()

	relay, err := StartRelay(Endpoint{Address: strings.TrimPrefix(up.URL, "http://"), Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	defer relay.Close()

	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: relay.Addr()})}}
	resp, err := client.Get("http://target.invalid/page")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "via upstream: target.invalid", string(body))
}

func TestRelayTunnelsConnect(t *testing.T) {
	up := upstreamProxy(t, "bob", "pw")
	defer up.Close()

	relay, err := StartRelay(Endpoint{Address: strings.TrimPrefix(up.URL, "http://"), Username: "bob", Password: "pw"})
	require.NoError(t, err)
	defer relay.Close()

	conn, err := net.Dial("tcp", relay.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "CONNECT target.invalid:443 HTTP/1.1\r\nHost: target.invalid:443\r\n\r\n")
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = io.WriteString(conn, "ping\n")
	require.NoError(t, err)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo ping\n", line)
}

func TestRelayCloseTearsDownTunnels(t *testing.T) {
	up := upstreamProxy(t, "dave", "pw")
	defer up.Close()

	relay, err := StartRelay(Endpoint{Address: strings.TrimPrefix(up.URL, "http://"), Username: "dave", Password: "pw"})
	require.NoError(t, err)

	conn, err := net.Dial("tcp", relay.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "CONNECT target.invalid:443 HTTP/1.1\r\nHost: target.invalid:443\r\n\r\n")
	require.NoError(t, err)
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = io.WriteString(conn, "one\n")
	require.NoError(t, err)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo one\n", line)

	require.NoError(t, relay.Close())

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, _ = io.WriteString(conn, "two\n")
	_, err = br.ReadString('\n')
	assert.Error(t, err, "tunnel must not outlive the relay")
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "tunnel was left open")
	}
}

func TestRelayRejectsMalformedUpstream(t *testing.T) {
	_, err := StartRelay(Endpoint{Address: "bad host:%%"})
	assert.Error(t, err)
}

func TestRelayRejectedByUpstream(t *testing.T) {
	up := upstreamProxy(t, "carol", "right")
	defer up.Close()

	relay, err := StartRelay(Endpoint{Address: strings.TrimPrefix(up.URL, "http://"), Username: "carol", Password: "wrong"})
	require.NoError(t, err)
	defer relay.Close()

	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: relay.Addr()})}}
	resp, err := client.Get("http://target.invalid/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)

	assert.NoError(t, relay.Close())
	assert.NoError(t, relay.Close(), "close is idempotent")
}
