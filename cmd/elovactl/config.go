package main

import (
	"encoding/json"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/newflowio/elova/internal/config"
)

const mask = "********"

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the merged configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(redactConfig(*cfg))
		},
	})
	return cmd
}

// redactConfig masks credentials on a copy of cfg.
func redactConfig(cfg config.Config) config.Config {
	maskIfSet(&cfg.Server.CronSecret)
	maskIfSet(&cfg.Auth.JWTSecret)
	maskIfSet(&cfg.Auth.SecretKey)
	maskIfSet(&cfg.Backups.EncryptionKey)
	maskIfSet(&cfg.Backups.S3.SecretAccessKey)
	maskIfSet(&cfg.Alerts.SMTP.Password)
	cfg.Database.URL = redactURL(cfg.Database.URL)
	cfg.Redis.URL = redactURL(cfg.Redis.URL)

	providers := make([]config.BootstrapProvider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		maskIfSet(&p.APIKey)
		providers[i] = p
	}
	cfg.Providers = providers
	return cfg
}

func maskIfSet(v *string) {
	if *v != "" {
		*v = mask
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), mask)
	}
	return u.String()
}
