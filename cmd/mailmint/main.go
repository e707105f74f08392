// Command mailmint extracts financial transactions from bank notification
// email and stores them in PostgreSQL.
package main

import (
	"fmt"
	"os"

	"github.com/sbitra/mailmint/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runMailmint(logger)
	case "setup":
		force := len(args) > 0 && args[0] == "--force"
		err = runSetup(logger, force)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: mailmint [command]

Commands:
  run      Fetch and process bank notification email (default)
  setup    Run the interactive Google OAuth flow
  help     Show this help

Configuration is environment-driven; see the MAILMINT_* and POSTGRES_*
variables documented in pkg/config.`)
}
