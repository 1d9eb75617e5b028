package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/engine"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "oastengine",
	Short: "Out-of-band application security testing client engine",
	Long: `oastengine drives an Interactsh-protocol client engine: mint
subdomains that call home over DNS/HTTP/SMTP, poll one or more OAST
servers for interactions, and print whatever comes back.

This binary is a demo harness, not the product: embed pkg/engine
directly in a host (TUI, service, library) for anything beyond manual
verification.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, flags/env/defaults only)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "OASTENGINE_LOG_LEVEL")
	viper.BindEnv("logger.format", "OASTENGINE_LOG_FORMAT")

	rootCmd.PersistentFlags().StringSlice("servers", nil, "comma-separated OAST server URLs (default: built-in public servers)")
	rootCmd.PersistentFlags().Duration("polling-interval", 0, "background poll interval (default: 5s)")
	viper.BindPFlag("engine.servers", rootCmd.PersistentFlags().Lookup("servers"))
	viper.BindPFlag("engine.polling_interval", rootCmd.PersistentFlags().Lookup("polling-interval"))
	viper.BindEnv("engine.servers", "OASTENGINE_SERVERS")

	rootCmd.PersistentFlags().String("session-backend", "", "session store backend: bbolt or redis (default: bbolt)")
	rootCmd.PersistentFlags().String("session-path", "", "bbolt session store path")
	rootCmd.PersistentFlags().String("session-passphrase", "", "passphrase protecting the session store's AES-256-GCM key")
	viper.BindPFlag("session_store.backend", rootCmd.PersistentFlags().Lookup("session-backend"))
	viper.BindPFlag("session_store.bolt_path", rootCmd.PersistentFlags().Lookup("session-path"))
	viper.BindPFlag("session_store.passphrase", rootCmd.PersistentFlags().Lookup("session-passphrase"))
	viper.BindEnv("session_store.passphrase", "OASTENGINE_SESSION_PASSPHRASE")

	rootCmd.PersistentFlags().Bool("archive-enabled", false, "persist interactions to a Postgres archive")
	rootCmd.PersistentFlags().String("archive-dsn", "", "Postgres DSN for the interaction archive")
	viper.BindPFlag("archive.enabled", rootCmd.PersistentFlags().Lookup("archive-enabled"))
	viper.BindPFlag("archive.dsn", rootCmd.PersistentFlags().Lookup("archive-dsn"))
	viper.BindEnv("archive.dsn", "OASTENGINE_ARCHIVE_DSN")

	rootCmd.PersistentFlags().String("token", "", "Interactsh server auth token (default: prompt once and cache encrypted)")
	viper.BindPFlag("engine.token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindEnv("engine.token", "OASTENGINE_TOKEN")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(generateURLCmd)
	rootCmd.AddCommand(exportSessionCmd)
	rootCmd.AddCommand(importSessionCmd)
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		// A missing or malformed --config is a genuine operator error;
		// surface it instead of silently falling back to defaults.
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(err)
		}
	}
}

// buildConfig layers viper-sourced flags/env/config-file overrides on
// top of the engine's baseline configuration. Each key is applied only
// when viper actually has it set, so an unset flag's zero value never
// clobbers a baseline default (a blanket viper.Unmarshal over the
// whole struct would do exactly that for the server list and every
// other slice/zero-valued field).
func buildConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if viper.IsSet("logger.level") {
		cfg.Logger.Level = viper.GetString("logger.level")
	}
	if viper.IsSet("logger.format") {
		cfg.Logger.Format = viper.GetString("logger.format")
	}
	if servers := viper.GetStringSlice("engine.servers"); len(servers) > 0 {
		cfg.Engine.Servers = servers
	}
	if d := viper.GetDuration("engine.polling_interval"); d > 0 {
		cfg.Engine.PollingInterval = d
	}
	if viper.IsSet("session_store.backend") && viper.GetString("session_store.backend") != "" {
		cfg.SessionStore.Backend = viper.GetString("session_store.backend")
	}
	if viper.IsSet("session_store.bolt_path") && viper.GetString("session_store.bolt_path") != "" {
		cfg.SessionStore.BoltPath = viper.GetString("session_store.bolt_path")
	}
	if viper.IsSet("session_store.passphrase") {
		cfg.SessionStore.Passphrase = viper.GetString("session_store.passphrase")
	}
	if viper.GetBool("archive.enabled") {
		cfg.Archive.Enabled = true
	}
	if dsn := viper.GetString("archive.dsn"); dsn != "" {
		cfg.Archive.DSN = dsn
	}
	if token := viper.GetString("engine.token"); token != "" {
		cfg.Engine.Token = token
	}

	return cfg, nil
}

// buildEngine builds the full config and, if no auth token was given
// via flag/env/config-file, falls back to the locally cached encrypted
// token (prompting once, interactively, if neither exists).
func buildEngine() (*engine.Engine, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Engine.Token == "" {
		log, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		credMgr, err := credentials.NewManager(log)
		if err != nil {
			log.Warnw("failed to initialize credentials manager", "error", err)
		} else if token, err := credMgr.CheckAndPromptForToken(); err != nil {
			log.Warnw("failed to check or prompt for auth token", "error", err)
		} else {
			cfg.Engine.Token = token
		}
	}

	return engine.New(cfg)
}
