package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
)

// CreateAccount inserts a new account and fills in its generated id.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) createAccountTx(ctx context.Context, q queryable, account *model.Account) error {
	if account == nil {
		return fmt.Errorf("%w: nil account", common.ErrInvalidRequest)
	}
	if err := validateString(account.Name, "account name"); err != nil {
		return err
	}

	currency := account.Currency
	if currency == "" {
		currency = "EUR"
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO accounts (user_id, name, currency) VALUES (?, ?, ?)
	`, account.UserID, account.Name, currency)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get account id: %w", err)
	}
	account.ID = id
	account.Currency = currency
	return nil
}

// GetAccount fetches one account, enforcing ownership.
func (s *SQLiteStorage) GetAccount(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAccountTx(ctx, s.db, userID, accountID)
}

func (s *SQLiteStorage) getAccountTx(ctx context.Context, q queryable, userID, accountID int64) (*model.Account, error) {
	var account model.Account
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, name, currency, created_at
		FROM accounts WHERE id = ? AND user_id = ?
	`, accountID, userID).Scan(&account.ID, &account.UserID, &account.Name, &account.Currency, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %d", common.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccounts returns all accounts of a user ordered by creation.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, userID int64) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAccountsTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) listAccountsTx(ctx context.Context, q queryable, userID int64) ([]model.Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, name, currency, created_at
		FROM accounts WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var account model.Account
		if err := rows.Scan(&account.ID, &account.UserID, &account.Name, &account.Currency, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
