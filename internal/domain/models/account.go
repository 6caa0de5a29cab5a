package models

// Account is a snapshot of an external bank account as reported by the
// provider at link time. Rows are append-only: a sync never updates an
// account in place.
type Account struct {
	ID            string `json:"id"`
	UserID        int    `json:"user_id"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	Currency      string `json:"currency"`
	IBAN          string `json:"iban"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
}
