// Package vault is the only boundary to connector secret material. It
// encrypts credentials through an external enclave and resolves stored
// envelopes back to plaintext for dispatch. Nothing in this package logs
// credential contents.
package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/validation"
)

const (
	encryptPath = "/v1/crypto/encrypt"
	decryptPath = "/v1/crypto/decrypt"
)

// Error is a normalized enclave/policy failure.
type Error struct {
	Status  int
	Code    string
	Details string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault: %s (status=%d): %s", e.Code, e.Status, e.Details)
}

// Client talks to the crypto enclave and applies the encryption policy.
type Client struct {
	cfg  config.VaultConfig
	http *http.Client
}

func New(cfg config.VaultConfig) *Client {
	return &Client{
		cfg: cfg,
		// No client-side deadline: enclave latency limits are the
		// enclave's own contract.
		http: &http.Client{},
	}
}

// CredentialContext is the deterministic per-connection encryption context.
func CredentialContext(connectionID string) string {
	return "bridge:connection:" + connectionID + ":credentials"
}

// Store encrypts plaintext credentials into an envelope. When the enclave is
// disabled or unreachable, the encryption policy decides between a hard 503
// and a tagged plaintext fallback.
func (c *Client) Store(ctx context.Context, connectionID string, plaintext map[string]any) (model.StoredCredentials, error) {
	if !c.cfg.Enabled {
		return c.storeFallback(plaintext)
	}

	raw, err := json.Marshal(plaintext)
	if err != nil {
		return model.StoredCredentials{}, fmt.Errorf("marshal credentials: %w", err)
	}

	var resp struct {
		Context       string `json:"context"`
		CiphertextB64 string `json:"ciphertextB64"`
		NonceB64      string `json:"nonceB64"`
		Alg           string `json:"alg"`
	}
	req := map[string]string{
		"context":      CredentialContext(connectionID),
		"plaintextB64": base64.StdEncoding.EncodeToString(raw),
	}
	if err := c.post(ctx, encryptPath, req, &resp); err != nil {
		// Enclave failure at store time follows the same policy as a
		// disabled enclave: plaintext fallback, or the 503 policy error
		// when encryption is mandated.
		return c.storeFallback(plaintext)
	}

	now := time.Now().UTC()
	return model.StoredCredentials{
		Mode:          model.CredentialModeEncrypted,
		Context:       resp.Context,
		Alg:           resp.Alg,
		CiphertextB64: resp.CiphertextB64,
		NonceB64:      resp.NonceB64,
		EncryptedAt:   &now,
	}, nil
}

func (c *Client) storeFallback(plaintext map[string]any) (model.StoredCredentials, error) {
	if c.cfg.EncryptionRequired {
		return model.StoredCredentials{}, &Error{
			Status:  http.StatusServiceUnavailable,
			Code:    "enclave_disabled",
			Details: "credential encryption is required but the enclave is disabled or unreachable",
		}
	}
	now := time.Now().UTC()
	return model.StoredCredentials{
		Mode:      model.CredentialModePlaintext,
		Plaintext: plaintext,
		SavedAt:   &now,
	}, nil
}

// Resolve turns a stored envelope back into validated plaintext credentials.
func (c *Client) Resolve(ctx context.Context, provider model.Provider, connectionID string, env model.StoredCredentials) (map[string]any, error) {
	var creds map[string]any

	switch env.Mode {
	case model.CredentialModePlaintext:
		creds = env.Plaintext

	case model.CredentialModeEncrypted:
		var resp struct {
			Context      string `json:"context"`
			PlaintextB64 string `json:"plaintextB64"`
			Alg          string `json:"alg"`
		}
		req := map[string]string{
			"context":       env.Context,
			"ciphertextB64": env.CiphertextB64,
			"nonceB64":      env.NonceB64,
		}
		if err := c.post(ctx, decryptPath, req, &resp); err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(resp.PlaintextB64)
		if err != nil {
			return nil, &Error{Status: http.StatusBadGateway, Code: "enclave_bad_plaintext", Details: err.Error()}
		}
		if err := json.Unmarshal(raw, &creds); err != nil {
			return nil, &Error{Status: http.StatusBadGateway, Code: "enclave_bad_plaintext", Details: err.Error()}
		}

	default:
		// Legacy rows predate the envelope: the stored value is the
		// credential object itself.
		creds = env.Plaintext
	}

	if err := validation.Credentials(provider, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	base := strings.TrimRight(c.cfg.EnclaveURL, "/")
	if base == "" {
		return &Error{Status: http.StatusServiceUnavailable, Code: "enclave_unconfigured", Details: "enclave url is empty"}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal enclave request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build enclave request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return &Error{Status: http.StatusBadGateway, Code: "enclave_unreachable", Details: err.Error()}
	}
	defer res.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode/100 != 2 {
		return &Error{
			Status:  res.StatusCode,
			Code:    "enclave_error",
			Details: strings.TrimSpace(string(data)),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Status: http.StatusBadGateway, Code: "enclave_bad_response", Details: err.Error()}
	}
	return nil
}
