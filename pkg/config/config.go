// Package config holds the environment-driven application configuration.
package config

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Source selects the mailbox backend: "gmail" or "mbox".
	// Environment variable: MAILMINT_SOURCE
	Source string `koanf:"MAILMINT_SOURCE"`

	// MboxPath is the mbox file to read when Source is "mbox".
	// Environment variable: MAILMINT_MBOX_PATH
	MboxPath string `koanf:"MAILMINT_MBOX_PATH"`

	// Mailbox is the Gmail label or folder to fetch from. Defaults to INBOX.
	// Environment variable: MAILMINT_MAILBOX
	Mailbox string `koanf:"MAILMINT_MAILBOX"`

	// RulesFile overrides the embedded extraction rule set.
	// Environment variable: MAILMINT_RULES_FILE
	RulesFile string `koanf:"MAILMINT_RULES_FILE"`

	// ReviewLog is the path unmatched email bodies are appended to.
	// Empty disables the review log.
	// Environment variable: MAILMINT_REVIEW_LOG
	ReviewLog string `koanf:"MAILMINT_REVIEW_LOG"`

	// ChunkSize bounds how many messages each processing batch holds.
	// Environment variable: MAILMINT_CHUNK_SIZE
	ChunkSize int `koanf:"MAILMINT_CHUNK_SIZE"`

	// Workers is the number of concurrent extraction workers.
	// Environment variable: MAILMINT_WORKERS
	Workers int `koanf:"MAILMINT_WORKERS"`

	// PollIntervalMinutes is the time between fetch passes.
	// Environment variable: MAILMINT_POLL_INTERVAL_MINUTES
	PollIntervalMinutes int `koanf:"MAILMINT_POLL_INTERVAL_MINUTES"`

	// LookbackHours is how far back each fetch pass reaches.
	// Environment variable: MAILMINT_LOOKBACK_HOURS
	LookbackHours int `koanf:"MAILMINT_LOOKBACK_HOURS"`

	// Once runs a single pass and exits instead of polling.
	// Environment variable: MAILMINT_ONCE
	Once bool `koanf:"MAILMINT_ONCE"`

	// Postgres holds the persistence gateway connection settings.
	Postgres PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}
