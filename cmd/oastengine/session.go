package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/sessionstore"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

var exportSessionCmd = &cobra.Command{
	Use:   "export-session [file]",
	Short: "Dump every persisted client session to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportSession,
}

var importSessionCmd = &cobra.Command{
	Use:   "import-session [file]",
	Short: "Load client sessions from a YAML file into the session store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportSession,
}

func openSessionStore() (*sessionstore.Store, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return sessionstore.Open(cfg.SessionStore, log)
}

func runExportSession(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	sessions, err := store.LoadSessions(context.Background())
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	data, err := yaml.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if err := os.WriteFile(args[0], data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	fmt.Printf("exported %d session(s) to %s\n", len(sessions), args[0])
	return nil
}

func runImportSession(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var sessions []types.ClientSession
	if err := yaml.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("unmarshal %s: %w", args[0], err)
	}

	store, err := openSessionStore()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, session := range sessions {
		if err := store.SaveSession(ctx, session); err != nil {
			return fmt.Errorf("save session for %s: %w", session.ServerURL, err)
		}
	}
	fmt.Printf("imported %d session(s) from %s\n", len(sessions), args[0])
	return nil
}
