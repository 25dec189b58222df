package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const uniqueViolation = "23505"

// UserRepository abstracts the users collection.
type UserRepository interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateProfile(ctx context.Context, userID string, name, profileURL *string) (models.User, error)
	SetPushToken(ctx context.Context, userID, token string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, name, profile_url, push_token`

// CreateAccount inserts the credential row and the public profile in one statement.
func (r *UserRepo) CreateAccount(ctx context.Context, account models.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, email, name, password_hash) VALUES ($1, $2, $3, $4)`,
		account.UserID, account.Email, account.Name, account.PasswordHash)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// GetAccountByEmail loads the credential row for sign-in.
func (r *UserRepo) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, `SELECT `+userColumns+`, password_hash, created_at FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrUserNotFound
	}
	return account, err
}

// GetUser fetches one profile.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsers fetches the profiles whose id is in userIDs. Unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	users := []models.User{}
	if len(userIDs) == 0 {
		return users, nil
	}
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(userIDs))
	return users, err
}

// ListUsers returns every registered profile.
func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY name`)
	return users, err
}

// UpdateProfile sets the non-nil fields and returns the updated profile.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID string, name, profileURL *string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET name = COALESCE($2, name), profile_url = COALESCE($3, profile_url)
        WHERE id=$1 RETURNING `+userColumns, userID, name, profileURL)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetPushToken stores the latest push delivery token for the user.
func (r *UserRepo) SetPushToken(ctx context.Context, userID, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET push_token=$2 WHERE id=$1`, userID, token)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
