// Package identity provides the identity-provider collaborator: it
// authenticates users against the account store and issues process-scoped
// sessions. Matchmaking itself never depends on this package; websocket
// connections stay anonymous and a session only attaches a username label.
package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/storage/postgres"
)

// Identity is the opaque result of a successful authentication.
type Identity struct {
	ID       int64
	Username string
}

// AccountStore defines the persistence operations required by the Service.
type AccountStore interface {
	Create(ctx context.Context, username, password string) (postgres.Account, error)
	Authenticate(ctx context.Context, username, password string) (postgres.Account, error)
}

// Provider authenticates credentials and returns an opaque Identity.
type Provider interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
}

// Service implements Provider on top of an AccountStore.
type Service struct {
	accounts AccountStore
	logger   *zap.Logger
}

// NewService creates a Service backed by the given account store.
//
// Precondition: accounts and logger must be non-nil.
func NewService(accounts AccountStore, logger *zap.Logger) *Service {
	return &Service{accounts: accounts, logger: logger}
}

// Register creates a new account and returns its identity.
//
// Postcondition: Returns the created Identity, or postgres.ErrAccountExists
// when the username is taken.
func (s *Service) Register(ctx context.Context, username, password string) (Identity, error) {
	acct, err := s.accounts.Create(ctx, username, password)
	if err != nil {
		return Identity{}, fmt.Errorf("creating account: %w", err)
	}
	s.logger.Info("account created",
		zap.Int64("account_id", acct.ID),
		zap.String("username", acct.Username),
	)
	return Identity{ID: acct.ID, Username: acct.Username}, nil
}

// Authenticate verifies credentials against the account store.
//
// Postcondition: Returns the matching Identity, or
// postgres.ErrAccountNotFound / postgres.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	acct, err := s.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return Identity{}, fmt.Errorf("authenticating %q: %w", username, err)
	}
	return Identity{ID: acct.ID, Username: acct.Username}, nil
}
