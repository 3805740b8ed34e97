package model

import "strings"

type Provider string

const (
	ProviderTelegram Provider = "telegram"
	ProviderDiscord  Provider = "discord"
	ProviderWhatsApp Provider = "whatsapp"
)

func (p Provider) String() string { return string(p) }

func (p Provider) Valid() bool {
	return p == ProviderTelegram || p == ProviderDiscord || p == ProviderWhatsApp
}

// ParseProvider normalizes input. Returns (value, true) if valid.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}
