package callkit

import (
	"net"
	"net/http"
	"time"
)

// newDefaultHTTPClient tunes the transport for a client that mixes short
// conversation-control calls with an otherwise websocket-heavy workload:
// few REST connections, kept warm between calls.
//
// No http.Client.Timeout is set; request lifetimes are bounded by the
// per-call context deadline instead.
func newDefaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       2 * time.Minute,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
