package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Core schema: accounts, categories, transactions, rules",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					name TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT 'EUR',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_accounts_user ON accounts(user_id)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER,
					parent_id INTEGER REFERENCES categories(id),
					root_id INTEGER,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					level INTEGER NOT NULL DEFAULT 0,
					is_system INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_categories_user ON categories(user_id)`,
				`CREATE INDEX idx_categories_parent ON categories(parent_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					account_id INTEGER NOT NULL REFERENCES accounts(id),
					fingerprint TEXT NOT NULL,
					date DATETIME NOT NULL,
					label_raw TEXT NOT NULL,
					label_clean TEXT NOT NULL DEFAULT '',
					amount_cents INTEGER NOT NULL,
					category_id INTEGER REFERENCES categories(id),
					confidence TEXT NOT NULL DEFAULT '',
					parsed TEXT,
					embedding TEXT,
					deleted_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				// Fingerprint uniqueness only applies to live rows; a
				// soft-deleted duplicate must not block a re-import.
				`CREATE UNIQUE INDEX idx_transactions_fingerprint
					ON transactions(fingerprint) WHERE deleted_at IS NULL`,
				`CREATE INDEX idx_transactions_account_date ON transactions(account_id, date)`,
				`CREATE INDEX idx_transactions_category ON transactions(category_id)`,

				`CREATE TABLE IF NOT EXISTS classification_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					pattern TEXT NOT NULL,
					match_type TEXT NOT NULL DEFAULT 'contains',
					category_id INTEGER NOT NULL REFERENCES categories(id),
					custom_label TEXT NOT NULL DEFAULT '',
					priority INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_by TEXT NOT NULL DEFAULT 'manual',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rules_user_active ON classification_rules(user_id, is_active)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Classification proposals and their clusters",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS classification_proposals (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					account_id INTEGER NOT NULL DEFAULT 0,
					distance_threshold REAL NOT NULL,
					total_uncategorized INTEGER NOT NULL DEFAULT 0,
					unclustered_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, account_id)
				)`,

				`CREATE TABLE IF NOT EXISTS proposal_clusters (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					proposal_id INTEGER NOT NULL REFERENCES classification_proposals(id) ON DELETE CASCADE,
					cluster_index INTEGER NOT NULL,
					representative_label TEXT NOT NULL,
					transaction_ids TEXT NOT NULL,
					transactions TEXT NOT NULL,
					total_amount_abs REAL NOT NULL DEFAULT 0,
					suggested_category_id INTEGER,
					suggested_category_name TEXT NOT NULL DEFAULT '',
					suggestion_confidence TEXT NOT NULL DEFAULT '',
					suggestion_similarity REAL,
					suggestion_source TEXT NOT NULL DEFAULT '',
					suggestion_explanation TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					override_category_id INTEGER,
					rule_pattern TEXT NOT NULL DEFAULT '',
					custom_label TEXT NOT NULL DEFAULT '',
					excluded_ids TEXT
				)`,
				`CREATE INDEX idx_proposal_clusters_proposal ON proposal_clusters(proposal_id, cluster_index)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Persistent transaction clusters with statistics",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transaction_clusters (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					account_id INTEGER,
					category_id INTEGER REFERENCES categories(id),
					rule_id INTEGER REFERENCES classification_rules(id),
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT 'manual',
					rule_pattern TEXT NOT NULL DEFAULT '',
					match_type TEXT NOT NULL DEFAULT '',
					transaction_ids TEXT NOT NULL,
					stats TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transaction_clusters_user ON transaction_clusters(user_id)`,
				`CREATE INDEX idx_transaction_clusters_category ON transaction_clusters(category_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
