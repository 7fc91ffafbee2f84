// Package api provides the HTTP API server for the murmur system: entry
// ingestion, dashboard listings, streaks, stats, calendar heat-maps, semantic
// recall, and on-demand artifact generation.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}
