package main

import (
	"net"
	"net/url"
	"strings"
)

// listenerURL is the address operators use for the HTTP surface (/solve, /metrics).
func listenerURL(address string) string {
	return endpointURL("http", address, "")
}

// gunneryURL is the websocket endpoint fire-control clients dial to stream commands.
func gunneryURL(address string) string {
	return endpointURL("ws", address, gunneryPath)
}

func endpointURL(scheme, address, path string) string {
	u := url.URL{Scheme: scheme, Host: normaliseHostPort(address), Path: path}
	return u.String()
}

// normaliseHostPort swaps wildcard binds for localhost so logged endpoints are dialable.
func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch host = strings.TrimSpace(host); host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
