package main

import (
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long:  "Prints the effective configuration as YAML after merging the config file, environment variables, and defaults. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved := *cfg
		if resolved.WorldData.Token != "" {
			resolved.WorldData.Token = "[redacted]"
		}
		if resolved.Store.DatabaseURL != "" {
			resolved.Store.DatabaseURL = redactDSN(resolved.Store.DatabaseURL)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(resolved); err != nil {
			return eris.Wrap(err, "encode config")
		}
		return nil
	},
}

// redactDSN strips the password from a connection string so the command
// output is safe to paste into tickets.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, set := u.User.Password(); set {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}

func init() {
	rootCmd.AddCommand(configCmd)
}
