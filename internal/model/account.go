package model

import "time"

// Account is a bank account owned by a user. Account management itself is
// handled elsewhere; the engine only needs ownership scoping.
type Account struct {
	CreatedAt time.Time
	Name      string
	Currency  string
	ID        int64
	UserID    int64
}
