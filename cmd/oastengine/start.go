package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine, generate a URL against the first configured server that registers, and print interactions as they arrive",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("tag", "", "tag attached to every generated URL")
}

// consoleSink prints newly generated URLs and newly arrived interactions
// to stdout in the teacher's color-coded style; the other engine events
// are ignored.
type consoleSink struct {
	engine.EventSinkBase
}

func (consoleSink) OnDataChanged() {
	color.Green("  [+] new interaction received\n")
}

func (consoleSink) OnURLGenerated(url string) {
	color.Cyan("  [*] generated url: %s\n", url)
}

func runStart(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")

	e, err := buildEngine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	e.RegisterSink(consoleSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := e.Stop(stopCtx); err != nil {
			color.Red("  [!] error during shutdown: %v\n", err)
		}
	}()

	active, err := e.GenerateURL(ctx, "", tag)
	if err != nil {
		return fmt.Errorf("generate url: %w", err)
	}
	color.Cyan("  listening on %s (unique_id %s)\n", active.URL, active.UniqueID)
	color.White("  press Ctrl+C to stop\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			color.Yellow("\n  received %s, shutting down\n", sig)
			return nil
		case <-ticker.C:
			if err := e.Poll(ctx, true); err != nil {
				color.Red("  [!] poll error: %v\n", err)
			}
			printNewInteractions(e)
		}
	}
}

var printedCount int

func printNewInteractions(e *engine.Engine) {
	interactions := e.GetNewInteractions(printedCount)
	printedCount += len(interactions)
	for _, in := range interactions {
		printInteraction(in)
	}
}

func printInteraction(in types.Interaction) {
	color.Yellow("  --- interaction ---\n")
	fmt.Printf("  protocol:       %s\n", in.Protocol)
	fmt.Printf("  unique_id:      %s\n", in.UniqueID)
	fmt.Printf("  remote_address: %s\n", in.RemoteAddress)
	fmt.Printf("  timestamp:      %s\n", in.Timestamp.Format(time.RFC3339))
	if in.Tag != "" {
		fmt.Printf("  tag:            %s\n", in.Tag)
	}
	fmt.Println()
}
