package model

import (
	"encoding/json"
	"time"
)

// Credential envelope modes. The envelope is a closed sum: a row is either
// enclave-encrypted or an explicitly tagged plaintext fallback. Anything
// else is treated as a legacy raw credential object.
const (
	CredentialModeEncrypted = "encrypted"
	CredentialModePlaintext = "plaintext-fallback"
)

// StoredCredentials is the tagged envelope persisted on a connection row.
type StoredCredentials struct {
	Mode string `json:"mode"`

	// encrypted
	Context       string     `json:"context,omitempty"`
	Alg           string     `json:"alg,omitempty"`
	CiphertextB64 string     `json:"ciphertextB64,omitempty"`
	NonceB64      string     `json:"nonceB64,omitempty"`
	EncryptedAt   *time.Time `json:"encryptedAt,omitempty"`

	// plaintext-fallback
	Plaintext map[string]any `json:"plaintext,omitempty"`
	SavedAt   *time.Time     `json:"savedAt,omitempty"`
}

// ParseStoredCredentials decodes a raw credentials column. Rows written
// before envelopes existed carry a bare credential object; those come back
// with Mode == "" and the raw object in Plaintext (compatibility path).
func ParseStoredCredentials(raw json.RawMessage) (StoredCredentials, error) {
	var env StoredCredentials
	if err := json.Unmarshal(raw, &env); err != nil {
		return StoredCredentials{}, err
	}
	if env.Mode == CredentialModeEncrypted || env.Mode == CredentialModePlaintext {
		return env, nil
	}

	var legacy map[string]any
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return StoredCredentials{}, err
	}
	delete(legacy, "mode")
	return StoredCredentials{Plaintext: legacy}, nil
}
