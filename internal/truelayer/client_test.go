package truelayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "client-id", r.PostFormValue("client_id"))
		assert.Equal(t, "client-secret", r.PostFormValue("client_secret"))
		assert.Equal(t, "auth-code", r.PostFormValue("code"))
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		assert.Equal(t, "http://localhost:2000/callback", r.PostFormValue("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1"}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	pair, err := client.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", pair.AccessToken)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
}

func TestExchangeRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		assert.Equal(t, "refresh-0", r.PostFormValue("refresh_token"))
		assert.Empty(t, r.PostFormValue("code"))

		w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2"}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	pair, err := client.ExchangeRefreshToken(context.Background(), "refresh-0")
	require.NoError(t, err)
	assert.Equal(t, "access-2", pair.AccessToken)
	assert.Equal(t, "refresh-2", pair.RefreshToken)
}

func TestExchangeCodeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	_, err := client.ExchangeCode(context.Background(), "bad-code")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.JSONEq(t, `{"error":"invalid_grant"}`, string(apiErr.Body))
}

func TestAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/v1/accounts", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		w.Write([]byte(`{"results":[{
			"account_id":"acc-1",
			"account_type":"TRANSACTION",
			"display_name":"Current Account",
			"currency":"GBP",
			"account_number":{"iban":"GB29NWBK60161331926819","number":"31926819","sort_code":"60-16-13"}
		}]}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	accounts, err := client.Accounts(context.Background(), "access-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0].AccountID)
	assert.Equal(t, "Current Account", accounts[0].DisplayName)
	assert.Equal(t, "60-16-13", accounts[0].AccountNumber.SortCode)
}

func TestTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/v1/accounts/acc-1/transactions", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		w.Write([]byte(`{"results":[{
			"transaction_id":"txn-1",
			"timestamp":"2024-03-01T12:00:00Z",
			"description":"COFFEE SHOP",
			"amount":-4.20,
			"currency":"GBP",
			"transaction_type":"DEBIT",
			"transaction_category":"PURCHASE",
			"merchant_name":"Coffee Shop",
			"transaction_classification":["Dining","Coffee"]
		}]}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	transactions, err := client.Transactions(context.Background(), "access-1", "acc-1")
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, "txn-1", transactions[0].TransactionID)
	assert.True(t, transactions[0].Amount.Equal(decimal.RequireFromString("-4.2")))
	assert.Equal(t, []string{"Dining", "Coffee"}, transactions[0].Classifications)
}

func TestTransactionsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer server.Close()

	client := New(server.URL, server.URL, "client-id", "client-secret", "http://localhost:2000/callback")

	_, err := client.Transactions(context.Background(), "expired", "acc-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
