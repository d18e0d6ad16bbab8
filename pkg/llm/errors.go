package llm

import "fmt"

// ConfigurationError indicates a required provider credential is absent.
// It is fatal: surfaced to the caller with no retry.
type ConfigurationError struct {
	Provider string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("missing credential for provider %q", e.Provider)
}

// ProviderError wraps a transient network or HTTP failure from a provider
// backend. Callers may retry per their own policy; no automatic retry happens
// at the point the error is raised.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }
