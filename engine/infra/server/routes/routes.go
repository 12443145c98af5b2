package routes

import "fmt"

const version = "v0"

// Version returns the current API version string used in routing (e.g., "v0").
func Version() string {
	return version
}

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return fmt.Sprintf("/api/%s", Version())
}

// AgentMode returns the agent mode base path (e.g., "/api/v0/agent-mode").
func AgentMode() string {
	return Base() + "/agent-mode"
}

func AgentModeStream() string { return AgentMode() + "/stream" }

// Health is the unversioned liveness probe.
func Health() string { return "/healthz" }
