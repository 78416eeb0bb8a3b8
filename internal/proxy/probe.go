package proxy

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"airdrop_manager/internal/errs"
)

// Endpoint is a proxy with plaintext credentials, valid for one use.
type Endpoint struct {
	Address  string
	Username string
	Password string
}

// URL renders the endpoint as an http proxy URL with userinfo when set.
func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: e.Address}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Prober checks that traffic can flow through an endpoint.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

type RestyProber struct {
	target  string
	timeout time.Duration
}

func NewRestyProber(target string, timeout time.Duration) *RestyProber {
	return &RestyProber{target: target, timeout: timeout}
}

func (p *RestyProber) Probe(ctx context.Context, ep Endpoint) error {
	client := resty.New().
		SetTimeout(p.timeout).
		SetProxy(ep.URL().String()).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	defer client.GetClient().CloseIdleConnections()

	resp, err := client.R().SetContext(ctx).Get(p.target)
	if err != nil {
		return fmt.Errorf("%w: probe via %s: %v", errs.ErrTransientNetwork, ep.Address, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: probe via %s: status %d", errs.ErrTransientNetwork, ep.Address, resp.StatusCode())
	}
	return nil
}
