// Package httpclient builds the process-wide outbound HTTP clients and classifies their failures.
package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"
)

// New returns a client with a pooled transport, shared by all in-flight requests.
// It has no overall timeout; callers bound each call with a context deadline.
func New() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{Transport: transport}
}

// IsTimeout reports whether err means the call ran out of time or the connection was aborted
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
