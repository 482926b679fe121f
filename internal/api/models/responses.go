package models

import "time"

// StatsResponse is the response for the relay stats endpoint
type StatsResponse struct {
	Connections int    `json:"connections"`
	Transport   string `json:"transport"`
	HubPath     string `json:"hub_path"`
	Uptime      string `json:"uptime"`
}

// NewStatsResponse builds a stats response for a relay started at startedAt
func NewStatsResponse(connections int, transport, hubPath string, startedAt time.Time) *StatsResponse {
	return &StatsResponse{
		Connections: connections,
		Transport:   transport,
		HubPath:     hubPath,
		Uptime:      time.Since(startedAt).Truncate(time.Second).String(),
	}
}

// UpgradeDetails tells a plain HTTP client how to reach the hub
type UpgradeDetails struct {
	HubPath  string `json:"hub_path"`
	Protocol string `json:"protocol"`
}

// NewUpgradeDetails builds the details attached to an upgrade_required error
func NewUpgradeDetails(hubPath string) *UpgradeDetails {
	return &UpgradeDetails{HubPath: hubPath, Protocol: "websocket"}
}
