// Package postgres provides the PostgreSQL persistence gateway.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sbitra/mailmint/pkg/api"
)

//go:embed schema.sql
var schemaSQL string

// Config holds the PostgreSQL gateway configuration.
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int `koanf:"max_pool_size"`
}

// Gateway writes normalized records to PostgreSQL. Inserts are idempotent
// on the record key, so replaying a batch never creates duplicate rows.
type Gateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new PostgreSQL gateway and applies the schema.
func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	g := &Gateway{pool: pool, logger: logger}

	if err := g.applySchema(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return g, nil
}

func (g *Gateway) applySchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	g.logger.Info("database schema applied")
	return nil
}

// tableFor maps a record destination to its table. Table names come from this
// fixed set only; they are interpolated into SQL.
func tableFor(dest api.Destination) string {
	switch dest {
	case api.DestinationBill:
		return "bills"
	case api.DestinationStatement:
		return "statements"
	default:
		return "transactions"
	}
}

// WriteBatch inserts records inside a single transaction. Each row runs under
// its own savepoint so one bad record cannot poison its neighbors: the row is
// rolled back and counted rejected while the rest of the batch commits.
// A key collision is not an error; the row is counted as a duplicate.
func (g *Gateway) WriteBatch(ctx context.Context, records []api.Record) (api.BatchResult, error) {
	var result api.BatchResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		inserted, err := g.insertRecord(ctx, tx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if connectionLost(err) {
				return result, fmt.Errorf("writing batch: %w", err)
			}
			g.logger.Warn("rejected record",
				"key", rec.Key,
				"destination", string(rec.Destination),
				"error", err,
			)
			result.Rejected++
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("committing batch: %w", err)
	}

	return result, nil
}

// connectionLost distinguishes a transport failure from a row-level error the
// savepoint already contained. Server-reported errors arrive as
// *pgconn.PgError with a SQLSTATE; class 08 (connection exception) and 57
// (operator intervention) still mean the connection is gone. Anything else,
// including pgx.ErrTxClosed and network errors, means the transaction is
// unusable and savepoint recovery is pointless.
func connectionLost(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57")
	}
	return true
}

// insertRecord inserts one record under a savepoint. Returns false without
// error when the key already exists.
func (g *Gateway) insertRecord(ctx context.Context, tx pgx.Tx, rec api.Record) (bool, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("opening savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (
			idempotency_key, amount, currency, direction, category,
			merchant, card_ref, counterparty_id, remarks, institution, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, tableFor(rec.Destination))

	tag, err := sp.Exec(ctx, query,
		rec.Key,
		rec.Amount.String(),
		rec.Currency,
		string(rec.Direction),
		rec.Category,
		rec.Merchant,
		rec.CardRef,
		rec.CounterpartyID,
		rec.Remarks,
		rec.Institution,
		rec.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("inserting record: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("releasing savepoint: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Close closes the database connection pool.
func (g *Gateway) Close() {
	if g.pool != nil {
		g.pool.Close()
		g.logger.Info("closed PostgreSQL connection pool")
	}
}
