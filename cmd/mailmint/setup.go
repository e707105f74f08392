package main

import (
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/api/gmail/v1"

	"github.com/sbitra/mailmint/pkg/client"
	"github.com/sbitra/mailmint/pkg/config"
)

// runSetup handles the OAuth setup flow.
func runSetup(logger *slog.Logger, force bool) error {
	fmt.Println("=== Mailmint Setup ===")
	fmt.Println()

	// Check if credentials file exists
	if _, err := os.Stat(config.ClientSecretFile); os.IsNotExist(err) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", config.ClientSecretFile, config.ClientSecretFile)
	}

	// Check if already authenticated
	if !force {
		if _, err := os.Stat(client.TokenFile); err == nil {
			fmt.Printf("Already authenticated! Token file exists: %s\n", client.TokenFile)
			fmt.Println()
			fmt.Println("To re-authenticate, run: mailmint setup --force")
			return nil
		}
	}

	if force {
		if err := os.Remove(client.TokenFile); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove existing token", "error", err)
		}
		fmt.Println("Forcing re-authentication...")
		fmt.Println()
	}

	fmt.Println("This will set up OAuth authentication with Google.")
	fmt.Println()
	fmt.Println("Required permissions:")
	fmt.Println("  - Gmail: Read emails (transaction alerts are never modified)")
	fmt.Println()
	fmt.Println("Starting authentication...")
	fmt.Println()

	// Trigger OAuth flow by creating client
	if _, err := client.New(config.ClientSecretFile, logger, gmail.GmailReadonlyScope); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Setup Complete ===")
	fmt.Println()
	fmt.Printf("Token saved to: %s\n", client.TokenFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Export POSTGRES_* connection variables")
	fmt.Println("  2. Run 'mailmint run' to start extracting transactions")
	fmt.Println()

	return nil
}
