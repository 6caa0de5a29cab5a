package bank

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/olliecrook/bankfeed/internal/domain/models"
	"github.com/olliecrook/bankfeed/internal/truelayer"
)

// scopes requested from the provider during the consent flow.
var scopes = []string{"info", "accounts", "balance", "transactions", "cards", "offline_access"}

// Storage is the subset of the persistence layer the linking flow needs.
type Storage interface {
	UserByID(ctx context.Context, id int) (*models.User, error)
	UpdateRefreshToken(ctx context.Context, userID int, token string) error
	SaveAccount(ctx context.Context, account *models.Account) error
	SaveTransaction(ctx context.Context, transaction *models.Transaction) error
	SaveClassification(ctx context.Context, transactionID string, label string) error
}

// Provider is the outbound TrueLayer surface used during linking.
type Provider interface {
	ExchangeCode(ctx context.Context, code string) (*truelayer.TokenPair, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*truelayer.TokenPair, error)
	Accounts(ctx context.Context, accessToken string) ([]truelayer.Account, error)
	Transactions(ctx context.Context, accessToken, accountID string) ([]truelayer.Transaction, error)
}

// Service orchestrates the bank-linking flow: authorization URL
// generation, the code-for-token exchange, and ingestion of the linked
// accounts with their transactions and classifications.
type Service struct {
	logger      *slog.Logger
	storage     Storage
	provider    Provider
	env         string
	clientID    string
	authURL     string
	redirectURI string
	concurrency int
}

func New(logger *slog.Logger, storage Storage, provider Provider, env, clientID, authURL, redirectURI string, concurrency int) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		logger:      logger,
		storage:     storage,
		provider:    provider,
		env:         env,
		clientID:    clientID,
		authURL:     authURL,
		redirectURI: redirectURI,
		concurrency: concurrency,
	}
}

// AuthorizationURL builds the redirect URL that sends the user to the
// provider's consent screen. The state parameter carries the user id so
// the form_post callback can be correlated back to a user; it is not
// signed, which is a known weakness of this correlation scheme.
func (s *Service) AuthorizationURL(user *models.User) string {
	params := url.Values{
		"response_type":                        {"code"},
		"client_id":                            {s.clientID},
		"nonce":                                {strconv.FormatInt(rand.Int63n(1e10), 10)},
		"scope":                                {strings.Join(scopes, " ")},
		"redirect_uri":                         {s.redirectURI},
		"enable_mock":                          {strconv.FormatBool(s.env != "prod")},
		"enable_oauth_providers":               {"true"},
		"enable_open_banking_providers":        {"true"},
		"enable_credentials_sharing_providers": {"true"},
		"response_mode":                        {"form_post"},
		"state":                                {strconv.Itoa(user.ID)},
	}

	return s.authURL + "?" + params.Encode()
}

// CompleteAuthorization handles the provider's form_post callback. It
// exchanges the authorization code for tokens, stores the refresh token
// on the user, then ingests every linked account with its transactions
// and classifications. All persistence is insert-or-ignore, so a failed
// run can be retried and converges on the same rows.
func (s *Service) CompleteAuthorization(ctx context.Context, state, code, providerError string) error {
	if providerError != "" {
		return &truelayer.AuthError{Code: providerError}
	}
	if state == "" {
		return fmt.Errorf("%w: state must be provided", models.ErrValidation)
	}
	if code == "" {
		return fmt.Errorf("%w: code must be provided", models.ErrValidation)
	}

	userID, err := strconv.Atoi(state)
	if err != nil {
		return fmt.Errorf("%w: state is not a user id", models.ErrValidation)
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	pair, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.storage.UpdateRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return err
	}

	accounts, err := s.provider.Accounts(ctx, pair.AccessToken)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, account := range accounts {
		account := account
		g.Go(func() error {
			return s.ingestAccount(gctx, user.ID, pair.AccessToken, account)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("linked bank account",
		slog.Int("user_id", user.ID),
		slog.Int("accounts", len(accounts)),
	)

	return nil
}

func (s *Service) ingestAccount(ctx context.Context, userID int, accessToken string, account truelayer.Account) error {
	record := &models.Account{
		ID:            account.AccountID,
		UserID:        userID,
		Type:          account.AccountType,
		Name:          account.DisplayName,
		Currency:      account.Currency,
		IBAN:          account.AccountNumber.IBAN,
		AccountNumber: account.AccountNumber.Number,
		SortCode:      account.AccountNumber.SortCode,
	}
	if err := s.storage.SaveAccount(ctx, record); err != nil {
		return fmt.Errorf("account %s: %w", account.AccountID, err)
	}

	transactions, err := s.provider.Transactions(ctx, accessToken, account.AccountID)
	if err != nil {
		return fmt.Errorf("account %s: %w", account.AccountID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, transaction := range transactions {
		transaction := transaction
		g.Go(func() error {
			return s.ingestTransaction(gctx, account.AccountID, transaction)
		})
	}

	return g.Wait()
}

func (s *Service) ingestTransaction(ctx context.Context, accountID string, transaction truelayer.Transaction) error {
	record := &models.Transaction{
		ID:           transaction.TransactionID,
		AccountID:    accountID,
		Timestamp:    transaction.Timestamp,
		Description:  transaction.Description,
		Amount:       transaction.Amount,
		Currency:     transaction.Currency,
		Type:         transaction.TransactionType,
		Category:     transaction.TransactionCategory,
		MerchantName: transaction.MerchantName,
	}
	if err := s.storage.SaveTransaction(ctx, record); err != nil {
		return fmt.Errorf("transaction %s: %w", transaction.TransactionID, err)
	}

	for _, label := range transaction.Classifications {
		if err := s.storage.SaveClassification(ctx, transaction.TransactionID, label); err != nil {
			return fmt.Errorf("transaction %s: %w", transaction.TransactionID, err)
		}
	}

	return nil
}

// AccountSnapshot pairs a provider account with its transactions as
// returned by a live fetch.
type AccountSnapshot struct {
	Account      truelayer.Account       `json:"account"`
	Transactions []truelayer.Transaction `json:"transactions"`
}

// RefreshedSnapshot exchanges the user's stored refresh token for a new
// access token, rotates the stored token, and returns the provider's
// current view of the linked accounts without persisting any of it.
func (s *Service) RefreshedSnapshot(ctx context.Context, userID int) ([]AccountSnapshot, error) {
	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.RefreshToken == "" {
		return nil, fmt.Errorf("%w: user has no linked refresh token", models.ErrValidation)
	}

	pair, err := s.provider.ExchangeRefreshToken(ctx, user.RefreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.storage.UpdateRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, err
	}

	accounts, err := s.provider.Accounts(ctx, pair.AccessToken)
	if err != nil {
		return nil, err
	}

	snapshots := make([]AccountSnapshot, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			transactions, err := s.provider.Transactions(gctx, pair.AccessToken, account.AccountID)
			if err != nil {
				return fmt.Errorf("account %s: %w", account.AccountID, err)
			}
			snapshots[i] = AccountSnapshot{Account: account, Transactions: transactions}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snapshots, nil
}
