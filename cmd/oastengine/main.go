// Command oastengine is a demo harness over pkg/engine: enough of a
// CLI to drive the Multi-Server Manager by hand, without standing in
// for a real host integration (TUI, service, library embed).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
