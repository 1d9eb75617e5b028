package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var generateURLCmd = &cobra.Command{
	Use:   "generate-url",
	Short: "Start the engine, mint a single URL, print it, and stop",
	RunE:  runGenerateURL,
}

func init() {
	generateURLCmd.Flags().String("server", "", "OAST server URL (default: a random configured server)")
	generateURLCmd.Flags().String("tag", "", "tag attached to the generated URL")
}

func runGenerateURL(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	tag, _ := cmd.Flags().GetString("tag")

	e, err := buildEngine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer e.Stop(ctx)

	active, err := e.GenerateURL(ctx, server, tag)
	if err != nil {
		return fmt.Errorf("generate url: %w", err)
	}

	color.Cyan("%s\n", active.URL)
	fmt.Printf("unique_id: %s\n", active.UniqueID)
	return nil
}
