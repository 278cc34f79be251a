package domain

import "time"

// Account is a named balance held in a single currency.
// Balance is stored in minor units.
type Account struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	Currency  string    `db:"currency" json:"currency"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Actor is the person behind an inbound event, as identified by the transport.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
