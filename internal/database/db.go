package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Create affiliates table
		`CREATE TABLE IF NOT EXISTS affiliates (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			code VARCHAR(50) NOT NULL UNIQUE,
			tier VARCHAR(20) NOT NULL DEFAULT 'bronze',
			commission_type VARCHAR(20) NOT NULL DEFAULT 'percentage',
			custom_commission_rate DECIMAL(5, 2),
			custom_fixed_amount DECIMAL(10, 2),
			approved_earnings DECIMAL(10, 2) NOT NULL DEFAULT 0,
			pix_key_type VARCHAR(20),
			pix_key VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_affiliates_code ON affiliates(code)`,
		`CREATE INDEX IF NOT EXISTS idx_affiliates_tier ON affiliates(tier)`,

		// Create partners table (sub-affiliates recruited by an affiliate)
		`CREATE TABLE IF NOT EXISTS partners (
			id SERIAL PRIMARY KEY,
			affiliate_id INTEGER NOT NULL REFERENCES affiliates(id),
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			code VARCHAR(50) NOT NULL UNIQUE,
			commission_type VARCHAR(20) NOT NULL DEFAULT 'percentage',
			commission_rate DECIMAL(5, 2) NOT NULL DEFAULT 5.00,
			fixed_commission_amount DECIMAL(10, 2) NOT NULL DEFAULT 3.00,
			pix_key_type VARCHAR(20),
			pix_key VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_affiliate ON partners(affiliate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_code ON partners(code)`,

		// Create users table (referral attribution, set once at registration)
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			affiliate_id INTEGER REFERENCES affiliates(id),
			partner_id INTEGER REFERENCES partners(id),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_affiliate ON users(affiliate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_partner ON users(partner_id)`,

		// Create affiliate tier config table
		`CREATE TABLE IF NOT EXISTS affiliate_tier_config (
			id SERIAL PRIMARY KEY,
			tier VARCHAR(20) NOT NULL UNIQUE,
			percentage_rate DECIMAL(5, 2) NOT NULL,
			fixed_amount DECIMAL(10, 2) NOT NULL,
			min_earnings DECIMAL(10, 2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Create conversions table - one row per commission leg.
		// The partial unique index is the idempotency guarantee for
		// redelivered deposit-completed events.
		`CREATE TABLE IF NOT EXISTS conversions (
			id SERIAL PRIMARY KEY,
			leg VARCHAR(10) NOT NULL,
			affiliate_id INTEGER NOT NULL REFERENCES affiliates(id),
			partner_id INTEGER REFERENCES partners(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			deposit_id VARCHAR(64) NOT NULL,
			conversion_type VARCHAR(20) NOT NULL DEFAULT 'deposit',
			conversion_value DECIMAL(10, 2) NOT NULL,
			affiliate_commission DECIMAL(10, 2) NOT NULL DEFAULT 0,
			partner_commission DECIMAL(10, 2),
			commission_rate DECIMAL(5, 2),
			commission_type VARCHAR(20),
			status VARCHAR(20) NOT NULL DEFAULT 'completed',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversions_deposit_leg
			ON conversions(deposit_id, leg)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_affiliate ON conversions(affiliate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_partner ON conversions(partner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_user ON conversions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status)`,

		// Create wallets table - one wallet per principal. The balance column
		// is a materialized view over wallet_transactions, never the source
		// of truth.
		`CREATE TABLE IF NOT EXISTS wallets (
			id SERIAL PRIMARY KEY,
			principal_type VARCHAR(10) NOT NULL,
			principal_id INTEGER NOT NULL,
			balance DECIMAL(10, 2) NOT NULL DEFAULT 0,
			total_earned DECIMAL(10, 2) NOT NULL DEFAULT 0,
			total_withdrawn DECIMAL(10, 2) NOT NULL DEFAULT 0,
			last_transaction_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (principal_type, principal_id)
		)`,

		// Create wallet_transactions table - immutable ledger of balance
		// deltas. amount is signed; balance_before/balance_after are
		// write-once. The partial unique index makes credits idempotent per
		// (principal, type, reference).
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id SERIAL PRIMARY KEY,
			wallet_id INTEGER NOT NULL REFERENCES wallets(id),
			principal_type VARCHAR(10) NOT NULL,
			principal_id INTEGER NOT NULL,
			type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			amount DECIMAL(10, 2) NOT NULL,
			balance_before DECIMAL(10, 2) NOT NULL,
			balance_after DECIMAL(10, 2) NOT NULL,
			description TEXT,
			reference_id VARCHAR(64),
			reference_type VARCHAR(30),
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_tx_reference
			ON wallet_transactions(principal_type, principal_id, type, reference_type, reference_id)
			WHERE reference_id IS NOT NULL AND type IN ('commission', 'refund')`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_wallet ON wallet_transactions(wallet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_principal ON wallet_transactions(principal_type, principal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_created ON wallet_transactions(created_at)`,

		// Create withdrawals table
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id SERIAL PRIMARY KEY,
			display_id INTEGER NOT NULL UNIQUE,
			principal_type VARCHAR(10) NOT NULL,
			principal_id INTEGER NOT NULL,
			wallet_transaction_id INTEGER NOT NULL REFERENCES wallet_transactions(id),
			amount DECIMAL(10, 2) NOT NULL,
			pix_key VARCHAR(255) NOT NULL,
			pix_key_type VARCHAR(20),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			end_to_end_id VARCHAR(255),
			rejection_reason TEXT,
			requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_principal ON withdrawals(principal_type, principal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status)`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_affiliates_updated_at ON affiliates`,
		`CREATE TRIGGER update_affiliates_updated_at BEFORE UPDATE ON affiliates
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_partners_updated_at ON partners`,
		`CREATE TRIGGER update_partners_updated_at BEFORE UPDATE ON partners
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_wallets_updated_at ON wallets`,
		`CREATE TRIGGER update_wallets_updated_at BEFORE UPDATE ON wallets
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_conversions_updated_at ON conversions`,
		`CREATE TRIGGER update_conversions_updated_at BEFORE UPDATE ON conversions
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// SeedTierConfig inserts the default affiliate tier table if it is empty.
// Values match the production commission ladder.
func (db *DB) SeedTierConfig(ctx context.Context) error {
	seeds := []struct {
		tier        string
		rate        string
		fixed       string
		minEarnings string
	}{
		{"bronze", "40.00", "6.00", "0.00"},
		{"silver", "45.00", "7.00", "5000.00"},
		{"gold", "50.00", "8.00", "20000.00"},
		{"platinum", "60.00", "9.00", "50000.00"},
		{"diamond", "70.00", "11.00", "100000.00"},
		{"special", "80.00", "14.00", "0.00"},
	}

	for _, s := range seeds {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO affiliate_tier_config (tier, percentage_rate, fixed_amount, min_earnings)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tier) DO NOTHING
		`, s.tier, s.rate, s.fixed, s.minEarnings)
		if err != nil {
			return fmt.Errorf("failed to seed tier config %s: %w", s.tier, err)
		}
	}
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
