// Package api provides the HTTP surface for submitting conversation turns
// and reading them back.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}
