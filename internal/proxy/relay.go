package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
)

// Relay is a loopback proxy in front of a credentialed upstream. Chrome
// cannot take proxy credentials on the command line, so the browser gets the
// relay's unauthenticated address and the relay adds Proxy-Authorization.
type Relay struct {
	upstream Endpoint
	ln       net.Listener
	srv      *http.Server
	gp       *goproxy.ProxyHttpServer

	mu      sync.Mutex
	tunnels map[net.Conn]struct{}
	closed  bool
}

// StartRelay listens on 127.0.0.1 with an ephemeral port.
func StartRelay(upstream Endpoint) (*Relay, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	r := &Relay{
		upstream: upstream,
		ln:       ln,
		tunnels:  make(map[net.Conn]struct{}),
	}

	gp := goproxy.NewProxyHttpServer()
	gp.Verbose = false
	gp.Logger = zap.NewStdLog(zap.L().Named("relay"))
	gp.Tr = &http.Transport{
		Proxy:                 http.ProxyURL(upstream.URL()),
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	dial := gp.NewConnectDialToProxyWithHandler("http://"+upstream.Address, func(req *http.Request) {
		if auth := r.authHeader(); auth != "" {
			req.Header.Set("Proxy-Authorization", auth)
		}
	})
	if dial == nil {
		_ = ln.Close()
		return nil, errors.New("relay: bad upstream address " + upstream.Address)
	}
	gp.ConnectDial = func(network, addr string) (net.Conn, error) {
		c, err := dial(network, addr)
		if err != nil {
			return nil, err
		}
		tc := &trackedConn{Conn: c, r: r}
		if !r.track(tc) {
			_ = c.Close()
			return nil, errors.New("relay closed")
		}
		return tc, nil
	}
	r.gp = gp

	r.srv = &http.Server{Handler: gp, ReadHeaderTimeout: 30 * time.Second}
	go func() { _ = r.srv.Serve(ln) }()
	return r, nil
}

// Addr is the "host:port" to pass as the browser's proxy server.
func (r *Relay) Addr() string { return r.ln.Addr().String() }

func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tunnels := r.tunnels
	r.tunnels = nil
	r.mu.Unlock()

	// tunnels are hijacked, so Shutdown does not see them
	for c := range tunnels {
		_ = c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.srv.Shutdown(ctx)
	r.gp.Tr.CloseIdleConnections()
	if errors.Is(err, context.DeadlineExceeded) {
		return r.srv.Close()
	}
	return err
}

func (r *Relay) authHeader() string {
	if r.upstream.Username == "" {
		return ""
	}
	raw := r.upstream.Username + ":" + r.upstream.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (r *Relay) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.tunnels[c] = struct{}{}
	return true
}

func (r *Relay) untrack(c net.Conn) {
	r.mu.Lock()
	if r.tunnels != nil {
		delete(r.tunnels, c)
	}
	r.mu.Unlock()
}

type trackedConn struct {
	net.Conn
	r    *Relay
	once sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() { c.r.untrack(c) })
	return c.Conn.Close()
}
