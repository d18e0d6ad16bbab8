package toolgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultCredentialTTL is the lifetime requested for session credentials.
const DefaultCredentialTTL = 5 * time.Minute

// Credential is a single-use, named, short-lived bearer credential for one
// gateway session.
type Credential struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Minter issues and revokes named session credentials.
type Minter interface {
	// Mint creates a fresh credential under the given name.
	Mint(ctx context.Context, name string) (Credential, error)

	// Revoke invalidates any existing credential with the given name.
	// Revoking an unknown name is not an error.
	Revoke(ctx context.Context, name string) error
}

// HTTPMinter mints credentials against the gateway's credential API,
// authenticated with a long-lived admin token.
type HTTPMinter struct {
	endpoint   string
	adminToken string
	ttl        time.Duration
	httpClient *http.Client
}

// HTTPMinterConfig configures an HTTPMinter.
type HTTPMinterConfig struct {
	// Endpoint is the base URL of the gateway's credential API.
	Endpoint string

	// AdminToken authenticates mint and revoke calls.
	AdminToken string

	// TTL requested for minted credentials. Defaults to DefaultCredentialTTL.
	TTL time.Duration
}

// NewHTTPMinter creates a minter against the gateway's credential API.
func NewHTTPMinter(cfg HTTPMinterConfig) *HTTPMinter {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}

	return &HTTPMinter{
		endpoint:   cfg.Endpoint,
		adminToken: cfg.AdminToken,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Mint requests a fresh named credential.
func (m *HTTPMinter) Mint(ctx context.Context, name string) (Credential, error) {
	body, err := json.Marshal(map[string]any{
		"name":        name,
		"ttl_seconds": int(m.ttl.Seconds()),
	})
	if err != nil {
		return Credential{}, fmt.Errorf("marshaling mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/credentials", bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("creating mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.adminToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("minting credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return Credential{}, fmt.Errorf("mint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("decoding credential: %w", err)
	}
	cred.Name = name

	return cred, nil
}

// Revoke invalidates the named credential. A 404 means there was nothing to
// revoke and is not an error.
func (m *HTTPMinter) Revoke(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.endpoint+"/credentials/"+name, nil)
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.adminToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

var _ Minter = (*HTTPMinter)(nil)
