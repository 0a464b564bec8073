package provider

import (
	"net"
	"net/http"
	"time"
)

// Completions stream nothing here; one response can still take a while.
const defaultHTTPTimeout = 120 * time.Second

// sharedHTTPClient builds the pooled client the responders share. Idle
// connections are kept so consecutive replies reuse the same TLS session.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}
