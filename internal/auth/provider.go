package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidAccount     = errors.New("email, password and name are required")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const minPasswordLen = 6

// Provider owns accounts and issues session tokens.
type Provider struct {
	users  repositories.UserRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider constructs a Provider signing HS256 tokens with secret.
func NewProvider(users repositories.UserRepository, secret string, ttl time.Duration) *Provider {
	return &Provider{users: users, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// CreateAccount registers a new account and writes its profile document.
func (p *Provider) CreateAccount(ctx context.Context, email, password, name string) (models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return models.User{}, ErrInvalidAccount
	}
	if len(password) < minPasswordLen {
		return models.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	account := models.Account{
		User:         models.User{UserID: uuid.NewString(), Email: email, Name: name},
		PasswordHash: string(hash),
	}
	if err := p.users.CreateAccount(ctx, account); err != nil {
		return models.User{}, err
	}
	return account.User, nil
}

// SignIn checks the credentials and returns the profile and a fresh token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (models.User, string, error) {
	account, err := p.users.GetAccountByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := p.IssueToken(account.UserID)
	if err != nil {
		return models.User{}, "", err
	}
	return account.User, token, nil
}

// UpdateProfile changes the display name and/or photo of the user.
func (p *Provider) UpdateProfile(ctx context.Context, userID string, name, photoURL *string) (models.User, error) {
	return p.users.UpdateProfile(ctx, userID, name, photoURL)
}

// Lookup loads the profile of an authenticated user.
func (p *Provider) Lookup(ctx context.Context, userID string) (models.User, error) {
	return p.users.GetUser(ctx, userID)
}

// IssueToken signs a token for userID.
func (p *Provider) IssueToken(userID string) (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// ParseToken validates a token and returns its subject.
func (p *Provider) ParseToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
