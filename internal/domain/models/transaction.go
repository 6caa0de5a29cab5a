package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Type         string          `json:"type"`
	Category     string          `json:"category"`
	MerchantName string          `json:"merchant_name"`
}

// Classification is a provider-assigned semantic label (for example
// "groceries") attached to a transaction.
type Classification struct {
	ID            int    `json:"id"`
	TransactionID string `json:"transaction_id"`
	Label         string `json:"classification"`
}
