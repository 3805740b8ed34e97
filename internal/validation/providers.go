// Package validation holds the per-provider destination and credential
// schema checks applied before secrets are stored and before a resolved
// credential set is handed to a runtime adapter.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fleetdeck/bridge-dispatch/internal/model"
)

// FieldError is a 400-class schema violation naming the offending field.
type FieldError struct {
	Provider model.Provider
	Field    string
	Reason   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Provider, e.Field, e.Reason)
}

// e164 per ITU: leading +, 2-15 digits, no leading zero.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Destination validates the connection destination for a provider.
// Only whatsapp constrains it (E.164 phone number).
func Destination(provider model.Provider, destination string) error {
	if provider != model.ProviderWhatsApp {
		return nil
	}
	if !e164.MatchString(strings.TrimSpace(destination)) {
		return &FieldError{Provider: provider, Field: "destination", Reason: "must be an E.164 phone number (+15551234567)"}
	}
	return nil
}

// Credentials validates a decoded credential object against the provider schema.
func Credentials(provider model.Provider, creds map[string]any) error {
	switch provider {
	case model.ProviderTelegram:
		if stringField(creds, "bot_token") == "" {
			return &FieldError{Provider: provider, Field: "bot_token", Reason: "must be a non-empty string"}
		}
	case model.ProviderDiscord:
		u := stringField(creds, "webhook_url")
		if u == "" {
			return &FieldError{Provider: provider, Field: "webhook_url", Reason: "must be a non-empty string"}
		}
		if !strings.HasPrefix(u, "https://") {
			return &FieldError{Provider: provider, Field: "webhook_url", Reason: "must use https"}
		}
	case model.ProviderWhatsApp:
		if stringField(creds, "access_token") == "" {
			return &FieldError{Provider: provider, Field: "access_token", Reason: "must be a non-empty string"}
		}
		if stringField(creds, "phone_number_id") == "" {
			return &FieldError{Provider: provider, Field: "phone_number_id", Reason: "must be a non-empty string"}
		}
	default:
		return &FieldError{Provider: provider, Field: "provider", Reason: "unknown provider"}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
