package mcp

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout        = 120 * time.Second
	DefaultSessionTimeout = 180 * time.Second
)

// ServerConfig describes one remote tool server reached over SSE.
type ServerConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	// Timeout bounds how long each HTTP request waits for response headers.
	Timeout time.Duration
	// SessionTimeout bounds each protocol call (initialize, list, call).
	SessionTimeout time.Duration
}

// SessionHeaders builds the headers every remote server expects.
func SessionHeaders(sessionID, apiKey string) map[string]string {
	h := map[string]string{"X-Session-Id": sessionID}
	if apiKey != "" {
		h["Authorization"] = "Bearer " + apiKey
	}
	return h
}

func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("mcp server name is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mcp server %s: invalid url %q", c.Name, c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("mcp server %s: unsupported scheme %q", c.Name, u.Scheme)
	}
	return nil
}

func (c *ServerConfig) withDefaults() ServerConfig {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.SessionTimeout <= 0 {
		out.SessionTimeout = DefaultSessionTimeout
	}
	return out
}
