package truelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the TrueLayer auth server and data API. All calls are
// context-bound and the underlying HTTP client carries a hard timeout so
// a stuck provider request cannot hang a sync forever.
type Client struct {
	authURL      string
	apiURL       string
	clientID     string
	clientSecret string
	redirectURI  string
	http         *http.Client
}

func New(authURL, apiURL, clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		authURL:      strings.TrimRight(authURL, "/"),
		apiURL:       strings.TrimRight(apiURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AccountNumber struct {
	IBAN     string `json:"iban"`
	Number   string `json:"number"`
	SortCode string `json:"sort_code"`
}

type Account struct {
	AccountID     string        `json:"account_id"`
	AccountType   string        `json:"account_type"`
	DisplayName   string        `json:"display_name"`
	Currency      string        `json:"currency"`
	AccountNumber AccountNumber `json:"account_number"`
}

type Transaction struct {
	TransactionID       string          `json:"transaction_id"`
	Timestamp           time.Time       `json:"timestamp"`
	Description         string          `json:"description"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	TransactionType     string          `json:"transaction_type"`
	TransactionCategory string          `json:"transaction_category"`
	MerchantName        string          `json:"merchant_name"`
	Classifications     []string        `json:"transaction_classification"`
}

// APIError is a non-2xx response from the provider. The raw body is kept
// so the HTTP boundary can attach it to its own error response.
type APIError struct {
	Status int
	Body   json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("truelayer: provider returned status %d", e.Status)
}

// AuthError is the provider signalling that the user declined the
// consent flow or that authorization otherwise failed, reported through
// the callback's error field rather than an HTTP failure.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("truelayer: authorization failed: %s", e.Code)
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI},
	}
	return c.exchange(ctx, form)
}

func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return c.exchange(ctx, form)
}

func (c *Client) exchange(ctx context.Context, form url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("truelayer: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("truelayer: token request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("truelayer: decode token response: %w", err)
	}

	return &pair, nil
}

func (c *Client) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	var out struct {
		Results []Account `json:"results"`
	}
	if err := c.get(ctx, c.apiURL+"/data/v1/accounts", accessToken, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) Transactions(ctx context.Context, accessToken, accountID string) ([]Transaction, error) {
	var out struct {
		Results []Transaction `json:"results"`
	}
	endpoint := c.apiURL + "/data/v1/accounts/" + url.PathEscape(accountID) + "/transactions"
	if err := c.get(ctx, endpoint, accessToken, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) get(ctx context.Context, endpoint, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("truelayer: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("truelayer: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("truelayer: decode response: %w", err)
	}

	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{Status: resp.StatusCode, Body: body}
}
