package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/olliecrook/bankfeed/internal/domain/models"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

type Storage struct {
	db *sql.DB
}

func New(dbUrl string) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte) (int, error) {
	const op = "storage.postgres.SaveUser"

	var id int
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO users (email, hash) VALUES ($1, $2) RETURNING id",
		email, passHash,
	).Scan(&id)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return 0, fmt.Errorf("%s: %w", op, models.ErrEmailTaken)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	var user models.User
	var refreshToken sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, hash, tl_refresh_token FROM users WHERE email = $1",
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &refreshToken)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.RefreshToken = refreshToken.String
	return &user, nil
}

func (s *Storage) UserByID(ctx context.Context, id int) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	var user models.User
	var refreshToken sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, hash, tl_refresh_token FROM users WHERE id = $1",
		id,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &refreshToken)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.RefreshToken = refreshToken.String
	return &user, nil
}

func (s *Storage) UpdateRefreshToken(ctx context.Context, userID int, token string) error {
	const op = "storage.postgres.UpdateRefreshToken"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET tl_refresh_token = $1 WHERE id = $2",
		token, userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}

	return nil
}

// SaveAccount is an insert-or-ignore on the provider account id so that
// repeating a sync never fails on rows it already wrote.
func (s *Storage) SaveAccount(ctx context.Context, account *models.Account) error {
	const op = "storage.postgres.SaveAccount"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, type, name, currency, iban, account_number, sort_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		account.ID,
		account.UserID,
		account.Type,
		account.Name,
		account.Currency,
		account.IBAN,
		account.AccountNumber,
		account.SortCode,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) AccountsByUserID(ctx context.Context, userID int) ([]models.Account, error) {
	const op = "storage.postgres.AccountsByUserID"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, type, name, currency, iban, account_number, sort_code FROM accounts WHERE user_id = $1",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.Type,
			&account.Name,
			&account.Currency,
			&account.IBAN,
			&account.AccountNumber,
			&account.SortCode,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return accounts, nil
}

func (s *Storage) SaveTransaction(ctx context.Context, transaction *models.Transaction) error {
	const op = "storage.postgres.SaveTransaction"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, timestamp, description, amount, currency, type, category, merchant_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		transaction.ID,
		transaction.AccountID,
		transaction.Timestamp,
		transaction.Description,
		transaction.Amount,
		transaction.Currency,
		transaction.Type,
		transaction.Category,
		transaction.MerchantName,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) TransactionsByAccountID(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const op = "storage.postgres.TransactionsByAccountID"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, account_id, timestamp, description, amount, currency, type, category, merchant_name FROM transactions WHERE account_id = $1",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		if err := rows.Scan(
			&transaction.ID,
			&transaction.AccountID,
			&transaction.Timestamp,
			&transaction.Description,
			&transaction.Amount,
			&transaction.Currency,
			&transaction.Type,
			&transaction.Category,
			&transaction.MerchantName,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return transactions, nil
}

func (s *Storage) SaveClassification(ctx context.Context, transactionID string, label string) error {
	const op = "storage.postgres.SaveClassification"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transaction_classifications (transaction_id, classification)
		 VALUES ($1, $2)
		 ON CONFLICT (transaction_id, classification) DO NOTHING`,
		transactionID, label,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) ClassificationsByTransactionID(ctx context.Context, transactionID string) ([]models.Classification, error) {
	const op = "storage.postgres.ClassificationsByTransactionID"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, transaction_id, classification FROM transaction_classifications WHERE transaction_id = $1",
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var classifications []models.Classification
	for rows.Next() {
		var classification models.Classification
		if err := rows.Scan(&classification.ID, &classification.TransactionID, &classification.Label); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		classifications = append(classifications, classification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return classifications, nil
}
