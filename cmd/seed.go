package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/db"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/util"
	"github.com/spf13/cobra"
)

// seedCmd inserts demo connections for local development. Production rows
// are created by the web API.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo connections (dev only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			PingTimeout: cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		now := time.Now().UTC()
		demo := []struct {
			provider    model.Provider
			destination string
			creds       map[string]any
			config      map[string]any
		}{
			{model.ProviderTelegram, "demo-channel", map[string]any{"bot_token": "123456:demo-token"}, map[string]any{"parse_mode": "Markdown"}},
			{model.ProviderDiscord, "bridge-alerts", map[string]any{"webhook_url": "https://discord.com/api/webhooks/1/demo"}, nil},
			{model.ProviderWhatsApp, "+15551234567", map[string]any{"access_token": "demo-access", "phone_number_id": "1050001"}, nil},
		}

		const q = `
			INSERT INTO connections
			    (id, deployment_id, user_id, provider, destination, credentials, config,
			     enabled, auto_relay, last_delivery_status, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, 1, '', '', ?, ?)
		`
		for _, d := range demo {
			env := model.StoredCredentials{
				Mode:      model.CredentialModePlaintext,
				Plaintext: d.creds,
				SavedAt:   &now,
			}
			credsJSON, err := json.Marshal(env)
			if err != nil {
				return err
			}
			configJSON := []byte(`{}`)
			if d.config != nil {
				if configJSON, err = json.Marshal(d.config); err != nil {
					return err
				}
			}

			id := util.NewID()
			if _, err := sqlDB.Exec(q,
				id, "dep-demo", "user-demo", d.provider.String(), d.destination,
				credsJSON, configJSON, now, now,
			); err != nil {
				return fmt.Errorf("seed %s connection: %w", d.provider, err)
			}
			fmt.Printf(">> seeded %s connection %s\n", d.provider, id)
		}
		return nil
	},
}
