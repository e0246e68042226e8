package app

import (
	"net"
	"net/http"
	"time"
)

// newSiteHTTPClient returns an HTTP client for the single search host. It has
// no overall timeout: the fetcher bounds each attempt itself.
func newSiteHTTPClient(maxConns int) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   maxIdlePerHost(maxConns),
		MaxConnsPerHost:       maxConns, // 0 is unlimited
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func maxIdlePerHost(maxConns int) int {
	if maxConns <= 0 {
		return 8
	}
	return maxConns
}
