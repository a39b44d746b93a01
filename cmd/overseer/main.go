// Command overseer runs the autonomous-activity ledger.
package main

import (
	"fmt"
	"os"

	"github.com/rpggio/overseer/internal/telemetry"
	"go.uber.org/automaxprocs/maxprocs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_, _ = maxprocs.Set()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "overseer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defer telemetry.Flush()
	defer telemetry.RecoverPanic()
	return newRootCmd().Execute()
}
