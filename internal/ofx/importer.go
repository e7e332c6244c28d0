package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// ImportResult summarizes one import run.
type ImportResult struct {
	Accounts   []model.Account
	Parsed     int
	Imported   int
	Duplicates int
}

// Importer resolves OFX statements to local accounts and persists their
// transactions. Re-importing the same file is safe: fingerprint matches
// are skipped, not duplicated.
type Importer struct {
	parser  *Parser
	storage service.Storage
	logger  *slog.Logger
}

func NewImporter(storage service.Storage, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{parser: NewParser(), storage: storage, logger: logger}
}

// Import parses the export and saves every statement's transactions under
// the given user. Unknown account references create accounts named after
// the bank's ACCTID; the user can rename them later.
func (i *Importer) Import(ctx context.Context, userID int64, reader io.Reader) (*ImportResult, error) {
	statements, err := i.parser.Parse(reader)
	if err != nil {
		return nil, err
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("no statements found in OFX file")
	}

	result := &ImportResult{}
	for _, stmt := range statements {
		account, err := i.resolveAccount(ctx, userID, stmt)
		if err != nil {
			return nil, err
		}
		result.Accounts = append(result.Accounts, *account)

		for j := range stmt.Transactions {
			stmt.Transactions[j].AccountID = account.ID
		}

		saved, err := i.storage.SaveTransactions(ctx, stmt.Transactions)
		if err != nil {
			return nil, fmt.Errorf("saving transactions for account %s: %w", stmt.AccountRef, err)
		}
		result.Parsed += len(stmt.Transactions)
		result.Imported += saved
		result.Duplicates += len(stmt.Transactions) - saved

		i.logger.InfoContext(ctx, "imported statement",
			"account", stmt.AccountRef,
			"parsed", len(stmt.Transactions),
			"imported", saved)
	}
	return result, nil
}

func (i *Importer) resolveAccount(ctx context.Context, userID int64, stmt Statement) (*model.Account, error) {
	accounts, err := i.storage.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for idx := range accounts {
		if accounts[idx].Name == stmt.AccountRef {
			return &accounts[idx], nil
		}
	}

	currency := stmt.Currency
	if currency == "" {
		currency = "EUR"
	}
	account := &model.Account{UserID: userID, Name: stmt.AccountRef, Currency: currency}
	if err := i.storage.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("creating account %s: %w", stmt.AccountRef, err)
	}
	i.logger.InfoContext(ctx, "created account from statement", "account", stmt.AccountRef)
	return account, nil
}
