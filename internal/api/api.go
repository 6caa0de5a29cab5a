package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/olliecrook/bankfeed/internal/bank"
	"github.com/olliecrook/bankfeed/internal/config"
	"github.com/olliecrook/bankfeed/internal/domain/models"
	"github.com/olliecrook/bankfeed/internal/lib/jwt"
	"github.com/olliecrook/bankfeed/internal/truelayer"
)

const tokenLifetime = 24 * time.Hour

type ctxKey string

const userContextKey ctxKey = "user"

// Storage is the persistence surface the HTTP boundary reads from.
type Storage interface {
	Ping(ctx context.Context) error
	SaveUser(ctx context.Context, email string, passHash []byte) (int, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id int) (*models.User, error)
	AccountsByUserID(ctx context.Context, userID int) ([]models.Account, error)
	TransactionsByAccountID(ctx context.Context, accountID string) ([]models.Transaction, error)
	ClassificationsByTransactionID(ctx context.Context, transactionID string) ([]models.Classification, error)
}

// Bank is the linking orchestrator surface exposed over HTTP.
type Bank interface {
	AuthorizationURL(user *models.User) string
	CompleteAuthorization(ctx context.Context, state, code, providerError string) error
	RefreshedSnapshot(ctx context.Context, userID int) ([]bank.AccountSnapshot, error)
}

type APIServer struct {
	config    *config.Config
	logger    *slog.Logger
	server    *http.Server
	storage   Storage
	bank      Bank
	jwtSecret []byte
}

func New(config *config.Config, logger *slog.Logger, storage Storage, bank Bank, jwtSecret []byte) *APIServer {
	return &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr: config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
		},
		storage:   storage,
		bank:      bank,
		jwtSecret: jwtSecret,
	}
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	s.configureRouter()

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.HandleFunc("/", s.indexHandler()).Methods("GET")
	router.HandleFunc("/health", s.healthHandler()).Methods("GET")
	router.HandleFunc("/api/v1/auth/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/api/v1/auth/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/api/v1/user", s.authenticate(s.userHandler())).Methods("GET")
	router.HandleFunc("/api/v1/bank/auth", s.authenticate(s.bankAuthHandler())).Methods("GET")
	router.HandleFunc("/api/v1/bank/auth", s.bankCallbackHandler()).Methods("POST")
	router.HandleFunc("/api/v1/accounts", s.authenticate(s.accountsHandler())).Methods("GET")
	router.HandleFunc("/api/v1/accounts/{accountId}/transactions", s.authenticate(s.transactionsHandler())).Methods("GET")
	router.HandleFunc("/api/v1/debug/user/{userId}", s.debugHandler()).Methods("GET")
	s.server.Handler = router
}

func (s *APIServer) indexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, map[string]interface{}{
			"message": "Welcome to the bankfeed API",
			"data": map[string]string{
				"environment": s.config.Env,
			},
		})
	}
}

func (s *APIServer) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.storage.Ping(r.Context()); err != nil {
			s.respond(w, http.StatusServiceUnavailable, map[string]string{
				"health": "Database is disconnected",
			})
			return
		}
		s.respond(w, http.StatusOK, map[string]string{
			"health": "We're up and running healthy",
		})
	}
}

type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
}

func (s *APIServer) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, models.ErrValidation)
			return
		}
		if req.Email == "" || req.Password == "" {
			s.respondError(w, models.ErrValidation)
			return
		}

		passHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("Failed to hash password", "error", err)
			s.respondError(w, err)
			return
		}

		id, err := s.storage.SaveUser(r.Context(), req.Email, passHash)
		if err != nil {
			s.logger.Error("Failed to save user", "error", err)
			s.respondError(w, err)
			return
		}

		user := &models.User{ID: id, Email: req.Email, PasswordHash: string(passHash)}
		s.logger.Info("Registered new user", slog.String("email", req.Email))

		token, err := jwt.NewToken(user, string(s.jwtSecret), tokenLifetime)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, AuthResponse{
			Message: "Successfully created new account",
			User:    user,
			Token:   token,
		})
	}
}

func (s *APIServer) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, models.ErrValidation)
			return
		}
		if req.Email == "" || req.Password == "" {
			s.respondError(w, models.ErrValidation)
			return
		}

		user, err := s.storage.UserByEmail(r.Context(), req.Email)
		if err != nil {
			s.respondError(w, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			s.respondError(w, models.ErrInvalidCredentials)
			return
		}

		token, err := jwt.NewToken(user, string(s.jwtSecret), tokenLifetime)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, AuthResponse{
			Message: "Successfully logged in",
			User:    user,
			Token:   token,
		})
	}
}

func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenHeader := r.Header.Get("Authorization")
		if tokenHeader == "" {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(tokenHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid token format", http.StatusUnauthorized)
			return
		}

		claims, err := jwt.ParseToken(parts[1], string(s.jwtSecret))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		uid, ok := claims["uid"].(float64)
		if !ok {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := s.storage.UserByID(r.Context(), int(uid))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), userContextKey, user))
		next(w, r)
	}
}

func (s *APIServer) userFromContext(r *http.Request) (*models.User, bool) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	return user, ok
}

func (s *APIServer) userHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFromContext(r)
		if !ok {
			http.Error(w, "Missing user", http.StatusUnauthorized)
			return
		}

		s.respond(w, http.StatusOK, map[string]interface{}{
			"message": "Successfully collected user information",
			"user":    user,
		})
	}
}

func (s *APIServer) bankAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFromContext(r)
		if !ok {
			http.Error(w, "Missing user", http.StatusUnauthorized)
			return
		}

		s.respond(w, http.StatusOK, map[string]string{
			"message": "Successfully generated redirect url",
			"url":     s.bank.AuthorizationURL(user),
		})
	}
}

func (s *APIServer) bankCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, models.ErrValidation)
			return
		}

		state := r.PostFormValue("state")
		code := r.PostFormValue("code")
		providerError := r.PostFormValue("error")

		if err := s.bank.CompleteAuthorization(r.Context(), state, code, providerError); err != nil {
			s.logger.Error("Bank linking failed", "error", err)
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, map[string]string{
			"message": "Successfully authorised user and collected transaction data",
		})
	}
}

func (s *APIServer) accountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFromContext(r)
		if !ok {
			http.Error(w, "Missing user", http.StatusUnauthorized)
			return
		}

		accounts, err := s.storage.AccountsByUserID(r.Context(), user.ID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if len(accounts) == 0 {
			s.respondError(w, models.ErrNotFound)
			return
		}

		s.respond(w, http.StatusOK, map[string]interface{}{
			"message":  "Successfully retrieved accounts",
			"accounts": accounts,
		})
	}
}

type TransactionWithClassifications struct {
	models.Transaction
	Classifications []models.Classification `json:"classifications"`
}

func (s *APIServer) transactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := mux.Vars(r)["accountId"]

		transactions, err := s.storage.TransactionsByAccountID(r.Context(), accountID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if len(transactions) == 0 {
			s.respondError(w, models.ErrNotFound)
			return
		}

		complete := make([]TransactionWithClassifications, 0, len(transactions))
		for _, transaction := range transactions {
			classifications, err := s.storage.ClassificationsByTransactionID(r.Context(), transaction.ID)
			if err != nil {
				s.respondError(w, err)
				return
			}
			complete = append(complete, TransactionWithClassifications{
				Transaction:     transaction,
				Classifications: classifications,
			})
		}

		s.respond(w, http.StatusOK, map[string]interface{}{
			"message":      "Successfully retrieved transactions",
			"transactions": complete,
		})
	}
}

func (s *APIServer) debugHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.Atoi(mux.Vars(r)["userId"])
		if err != nil {
			s.respondError(w, models.ErrValidation)
			return
		}

		start := time.Now()
		snapshots, err := s.bank.RefreshedSnapshot(r.Context(), userID)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respond(w, http.StatusOK, map[string]interface{}{
			"message":        "Successfully collected debug data on provider account and transaction requests",
			"processingTime": time.Since(start).String(),
			"data": map[string]interface{}{
				"accounts": snapshots,
			},
		})
	}
}

func (s *APIServer) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// respondError maps an error kind to a status code and JSON payload.
func (s *APIServer) respondError(w http.ResponseWriter, err error) {
	var apiErr *truelayer.APIError
	var authErr *truelayer.AuthError

	switch {
	case errors.Is(err, models.ErrValidation):
		s.respond(w, http.StatusBadRequest, map[string]string{
			"message": "There was an issue with your request",
			"error":   err.Error(),
		})
	case errors.Is(err, models.ErrInvalidCredentials):
		s.respond(w, http.StatusUnauthorized, map[string]string{
			"message": "There was an issue with your request",
			"error":   "Invalid credentials",
		})
	case errors.Is(err, models.ErrEmailTaken):
		s.respond(w, http.StatusUnprocessableEntity, map[string]string{
			"message": "There was an issue with your request",
			"error":   "Email already in use",
		})
	case errors.Is(err, models.ErrNotFound):
		s.respond(w, http.StatusNotFound, map[string]string{
			"message": "There was an issue with your request",
			"error":   "No results found",
		})
	case errors.As(err, &authErr):
		s.respond(w, http.StatusInternalServerError, map[string]string{
			"message": "There was an issue authorising with the provider",
			"error":   authErr.Code,
		})
	case errors.As(err, &apiErr):
		s.respond(w, http.StatusInternalServerError, map[string]interface{}{
			"message": "There was an issue communicating with the provider",
			"error":   apiErr.Error(),
			"data":    apiErr.Body,
		})
	default:
		s.respond(w, http.StatusInternalServerError, map[string]string{
			"message": "An error occurred",
			"error":   err.Error(),
		})
	}
}
