// Package identity handles account registration, login, and JWT issuance.
// Registering an account also provisions its wallet, so every authenticated
// caller can hold funds from the first request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/skillincome/backend/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering an email that exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRole rejects registration outside worker/requester.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidToken is returned for expired or malformed JWTs.
	ErrInvalidToken = errors.New("invalid token")
	// ErrFundsHeld blocks account deletion while escrow is outstanding.
	ErrFundsHeld = errors.New("account has funds held in escrow")
	// ErrAccountNotFound is returned when the account id resolves to nothing.
	ErrAccountNotFound = errors.New("account not found")
)

const tokenTTL = 24 * time.Hour

// AccountRepo is the account persistence surface.
type AccountRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// WalletRepo provisions and inspects the account's wallet.
type WalletRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool     TxBeginner
	accounts AccountRepo
	wallets  WalletRepo
	secret   []byte
}

func NewService(pool TxBeginner, accounts AccountRepo, wallets WalletRepo, jwtSecret string) *Service {
	return &Service{pool: pool, accounts: accounts, wallets: wallets, secret: []byte(jwtSecret)}
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register creates the account and its wallet in one transaction.
func (s *Service) Register(ctx context.Context, email, password, name, role string) (*models.Account, error) {
	if role != models.RoleWorker && role != models.RoleRequester {
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
	}
	wallet := &models.Wallet{
		AccountID: acc.ID,
		Available: decimal.Zero,
		Escrowed:  decimal.Zero,
		PiAddress: newPiAddress(),
		IsActive:  true,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.accounts.CreateTx(ctx, tx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.wallets.CreateTx(ctx, tx, wallet); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID, acc.Role)
}

func (s *Service) issueToken(accountID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the account id and role carried by a valid JWT.
func (s *Service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	return id, c.Role, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// DeleteAccount removes the account unless escrow is outstanding. Available
// funds should be withdrawn first; escrowed funds belong to live tasks and
// block deletion outright.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	w, err := s.wallets.GetByAccountID(ctx, id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if w != nil && w.Escrowed.IsPositive() {
		return ErrFundsHeld
	}
	return s.accounts.Delete(ctx, id)
}

// newPiAddress generates a placeholder mainnet-style address for wallets
// created before the owner links a real one.
func newPiAddress() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return "G" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:])
}
