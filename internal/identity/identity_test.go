package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lobbyd/lobbyd/internal/storage/postgres"
)

type fakeAccounts struct {
	account postgres.Account
	err     error
}

func (f *fakeAccounts) Create(context.Context, string, string) (postgres.Account, error) {
	return f.account, f.err
}

func (f *fakeAccounts) Authenticate(context.Context, string, string) (postgres.Account, error) {
	return f.account, f.err
}

func TestServiceRegister(t *testing.T) {
	store := &fakeAccounts{account: postgres.Account{ID: 42, Username: "gunnar"}}
	svc := NewService(store, zaptest.NewLogger(t))

	ident, err := svc.Register(context.Background(), "gunnar", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.ID)
	assert.Equal(t, "gunnar", ident.Username)
}

func TestServiceRegisterWrapsStoreError(t *testing.T) {
	store := &fakeAccounts{err: postgres.ErrAccountExists}
	svc := NewService(store, zaptest.NewLogger(t))

	_, err := svc.Register(context.Background(), "gunnar", "hunter22")
	require.Error(t, err)
	assert.True(t, errors.Is(err, postgres.ErrAccountExists))
}

func TestServiceAuthenticate(t *testing.T) {
	store := &fakeAccounts{account: postgres.Account{ID: 42, Username: "gunnar"}}
	svc := NewService(store, zaptest.NewLogger(t))

	ident, err := svc.Authenticate(context.Background(), "gunnar", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "gunnar", ident.Username)
}

func TestServiceAuthenticateWrapsStoreError(t *testing.T) {
	store := &fakeAccounts{err: postgres.ErrInvalidCredentials}
	svc := NewService(store, zaptest.NewLogger(t))

	_, err := svc.Authenticate(context.Background(), "gunnar", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, postgres.ErrInvalidCredentials))
}
