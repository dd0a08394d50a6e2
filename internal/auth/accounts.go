package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/domain"
	"github.com/yourorg/finance/internal/execution"
	"github.com/yourorg/finance/internal/repository/sqlstore"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already in use")
	ErrPasswordMismatch   = errors.New("passwords don't match")
	ErrInvalidCredentials = errors.New("invalid username and/or password")
)

// Accounts registers users and checks their credentials.
type Accounts struct {
	userRepo     *sqlstore.UserRepo
	startingCash decimal.Decimal
	bcryptCost   int
}

func NewAccounts(userRepo *sqlstore.UserRepo, startingCash decimal.Decimal, bcryptCost int) *Accounts {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Accounts{userRepo: userRepo, startingCash: startingCash, bcryptCost: bcryptCost}
}

func (a *Accounts) Register(ctx context.Context, username, password, confirmation string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, &execution.ValidationError{Field: "username", Reason: "must provide username"}
	case password == "":
		return nil, &execution.ValidationError{Field: "password", Reason: "must provide password"}
	case confirmation == "":
		return nil, &execution.ValidationError{Field: "confirmation", Reason: "confirm password"}
	case password != confirmation:
		return nil, ErrPasswordMismatch
	}

	if _, err := a.userRepo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, sqlstore.ErrUserNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username: username,
		Hash:     string(hash),
		Cash:     a.startingCash,
	}
	if err := a.userRepo.Create(ctx, user); err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (a *Accounts) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &execution.ValidationError{Field: "username", Reason: "must provide username"}
	}
	if password == "" {
		return nil, &execution.ValidationError{Field: "password", Reason: "must provide password"}
	}
	user, err := a.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sqlstore.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup returns the user by username, for tools that act on behalf of a
// named user.
func (a *Accounts) Lookup(ctx context.Context, username string) (*domain.User, error) {
	return a.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
}
