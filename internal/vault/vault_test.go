package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
)

// stubEnclave implements the crypto endpoints with a trivially reversible
// cipher: ciphertext is the plaintext, nonce is fixed.
func stubEnclave(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/crypto/encrypt", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Context      string `json:"context"`
			PlaintextB64 string `json:"plaintextB64"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"context":       req.Context,
			"ciphertextB64": req.PlaintextB64,
			"nonceB64":      "bm9uY2U=",
			"alg":           "aes-256-gcm",
		})
	})
	mux.HandleFunc("/v1/crypto/decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Context       string `json:"context"`
			CiphertextB64 string `json:"ciphertextB64"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"context":      req.Context,
			"plaintextB64": req.CiphertextB64,
			"alg":          "aes-256-gcm",
		})
	})
	return httptest.NewServer(mux)
}

func TestStoreDisabledFallback(t *testing.T) {
	c := New(config.VaultConfig{Enabled: false, EncryptionRequired: false})
	creds := map[string]any{"bot_token": "123:abc"}

	env, err := c.Store(context.Background(), "conn-1", creds)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if env.Mode != model.CredentialModePlaintext {
		t.Fatalf("mode = %q, want plaintext-fallback", env.Mode)
	}
	if !reflect.DeepEqual(env.Plaintext, creds) {
		t.Fatalf("plaintext = %v, want %v", env.Plaintext, creds)
	}
	if env.SavedAt == nil {
		t.Fatal("SavedAt not stamped")
	}
}

func TestStoreDisabledEncryptionRequired(t *testing.T) {
	c := New(config.VaultConfig{Enabled: false, EncryptionRequired: true})

	_, err := c.Store(context.Background(), "conn-1", map[string]any{"bot_token": "x"})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("want vault.Error, got %v", err)
	}
	if verr.Status != http.StatusServiceUnavailable || verr.Code != "enclave_disabled" {
		t.Fatalf("got status=%d code=%q", verr.Status, verr.Code)
	}
}

func TestStoreResolveRoundtrip(t *testing.T) {
	srv := stubEnclave(t)
	defer srv.Close()

	c := New(config.VaultConfig{Enabled: true, EnclaveURL: srv.URL})
	creds := map[string]any{"access_token": "tok", "phone_number_id": "1050001"}

	env, err := c.Store(context.Background(), "conn-7", creds)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if env.Mode != model.CredentialModeEncrypted {
		t.Fatalf("mode = %q, want encrypted", env.Mode)
	}
	if env.Context != CredentialContext("conn-7") {
		t.Fatalf("context = %q", env.Context)
	}
	if env.Alg == "" || env.CiphertextB64 == "" || env.NonceB64 == "" {
		t.Fatalf("incomplete envelope: %+v", env)
	}

	got, err := c.Resolve(context.Background(), model.ProviderWhatsApp, "conn-7", env)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(got, creds) {
		t.Fatalf("roundtrip mismatch: got %v want %v", got, creds)
	}
}

func TestStoreEnclaveFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Not mandated: a broken enclave degrades to plaintext fallback.
	c := New(config.VaultConfig{Enabled: true, EnclaveURL: srv.URL})
	env, err := c.Store(context.Background(), "conn-1", map[string]any{"bot_token": "x"})
	if err != nil {
		t.Fatalf("store should fall back: %v", err)
	}
	if env.Mode != model.CredentialModePlaintext {
		t.Fatalf("mode = %q, want plaintext-fallback", env.Mode)
	}

	// Mandated: a broken enclave is the same hard failure as a disabled
	// one, not a leaked transport error.
	c = New(config.VaultConfig{Enabled: true, EnclaveURL: srv.URL, EncryptionRequired: true})
	_, err = c.Store(context.Background(), "conn-1", map[string]any{"bot_token": "x"})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("want vault.Error, got %v", err)
	}
	if verr.Status != http.StatusServiceUnavailable || verr.Code != "enclave_disabled" {
		t.Fatalf("got status=%d code=%q, want 503 enclave_disabled", verr.Status, verr.Code)
	}
}

func TestResolvePlaintextEnvelope(t *testing.T) {
	c := New(config.VaultConfig{})
	env := model.StoredCredentials{
		Mode:      model.CredentialModePlaintext,
		Plaintext: map[string]any{"bot_token": "123:abc"},
	}
	got, err := c.Resolve(context.Background(), model.ProviderTelegram, "conn-1", env)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["bot_token"] != "123:abc" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveLegacyShape(t *testing.T) {
	c := New(config.VaultConfig{})
	env, err := model.ParseStoredCredentials(json.RawMessage(`{"bot_token":"123:abc"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := c.Resolve(context.Background(), model.ProviderTelegram, "conn-1", env)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["bot_token"] != "123:abc" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveValidatesSchema(t *testing.T) {
	c := New(config.VaultConfig{})
	env := model.StoredCredentials{
		Mode:      model.CredentialModePlaintext,
		Plaintext: map[string]any{"webhook_url": "http://not-https.example.com"},
	}
	if _, err := c.Resolve(context.Background(), model.ProviderDiscord, "conn-1", env); err == nil {
		t.Fatal("resolve must reject credentials failing the provider schema")
	}
}
