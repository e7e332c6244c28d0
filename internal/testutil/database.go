// Package testutil provides test fixtures shared across packages: an
// in-memory migrated database, seeded accounts and category trees, and
// transaction builders.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
	"github.com/mlecarme/spendsort/internal/storage"
)

// TestDB bundles a migrated in-memory database with the fixture rows most
// tests need: one user, one account, a small category tree.
type TestDB struct {
	Storage    service.Storage
	Account    *model.Account
	Categories map[string]*model.Category
	t          *testing.T
}

// UserID is the fixture owner of every seeded row.
const UserID int64 = 1

// SetupTestDB creates an in-memory database, runs migrations, and seeds an
// account. Cleanup closes the database when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	account := &model.Account{UserID: UserID, Name: "Compte courant", Currency: "EUR"}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("seeding account: %v", err)
	}

	return &TestDB{
		Storage:    store,
		Account:    account,
		Categories: make(map[string]*model.Category),
		t:          t,
	}
}

// Scope returns the fixture (user, account) pair.
func (db *TestDB) Scope() service.Scope {
	return service.Scope{UserID: UserID, AccountID: db.Account.ID}
}

// SeedCategory creates a category under the optional parent name and
// registers it by name for later lookup.
func (db *TestDB) SeedCategory(name, description, parentName string) *model.Category {
	db.t.Helper()

	userID := UserID
	cat := &model.Category{
		UserID:      &userID,
		Name:        name,
		Description: description,
		IsActive:    true,
	}
	if parentName != "" {
		parent, ok := db.Categories[parentName]
		if !ok {
			db.t.Fatalf("unknown parent category %q", parentName)
		}
		cat.ParentID = &parent.ID
	}
	if err := db.Storage.CreateCategory(context.Background(), cat); err != nil {
		db.t.Fatalf("seeding category %q: %v", name, err)
	}
	db.Categories[name] = cat
	return cat
}

// SeedBasicCategories builds the tree most engine tests assume:
// Alimentation > Courses / Restaurants, Transport > Carburant.
func (db *TestDB) SeedBasicCategories() {
	db.t.Helper()
	db.SeedCategory("Alimentation", "Nourriture et repas", "")
	db.SeedCategory("Courses", "Courses alimentaires en supermarché", "Alimentation")
	db.SeedCategory("Restaurants", "Repas au restaurant", "Alimentation")
	db.SeedCategory("Transport", "Déplacements", "")
	db.SeedCategory("Carburant", "Essence et gazole", "Transport")
}

// Transaction builds an unsaved debit transaction on the fixture account.
func (db *TestDB) Transaction(label string, amountCents int64, date string) model.Transaction {
	db.t.Helper()

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		db.t.Fatalf("bad fixture date %q: %v", date, err)
	}
	txn := model.Transaction{
		ID:          uuid.New().String(),
		AccountID:   db.Account.ID,
		Date:        day,
		LabelRaw:    label,
		AmountCents: amountCents,
	}
	txn.Fingerprint = txn.GenerateFingerprint()
	return txn
}

// SaveTransactions persists the given transactions and fails the test on
// error or partial insert.
func (db *TestDB) SaveTransactions(txns ...model.Transaction) {
	db.t.Helper()

	saved, err := db.Storage.SaveTransactions(context.Background(), txns)
	if err != nil {
		db.t.Fatalf("saving transactions: %v", err)
	}
	if saved != len(txns) {
		db.t.Fatalf("saved %d of %d transactions", saved, len(txns))
	}
}
