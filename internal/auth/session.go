package auth

import (
	"context"
	"sync"

	"chat-sync/internal/models"
)

// Session is the explicit identity context of one client. It is created once
// and handed to every component that needs to know who is signed in.
// Observers are told about every sign-in, sign-out and profile change.
type Session struct {
	provider *Provider

	mu        sync.Mutex
	user      *models.User
	token     string
	observers map[int]func(*models.User)
	nextID    int
}

// NewSession creates a signed-out session.
func NewSession(provider *Provider) *Session {
	return &Session{provider: provider, observers: map[int]func(*models.User){}}
}

// Restore signs the session in from an existing token.
func (s *Session) Restore(ctx context.Context, token string) error {
	userID, err := s.provider.ParseToken(token)
	if err != nil {
		return err
	}
	user, err := s.provider.Lookup(ctx, userID)
	if err != nil {
		return err
	}
	s.set(&user, token)
	return nil
}

// SignUp creates the account and signs in as it.
func (s *Session) SignUp(ctx context.Context, email, password, name string) error {
	if _, err := s.provider.CreateAccount(ctx, email, password, name); err != nil {
		return err
	}
	return s.SignIn(ctx, email, password)
}

// SignIn authenticates and replaces the current identity.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	user, token, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(&user, token)
	return nil
}

// SignOut clears the identity.
func (s *Session) SignOut() {
	s.set(nil, "")
}

// UpdateProfile changes the signed-in user's name and/or photo.
func (s *Session) UpdateProfile(ctx context.Context, name, photoURL *string) error {
	current := s.CurrentUser()
	if current == nil {
		return ErrInvalidToken
	}
	user, err := s.provider.UpdateProfile(ctx, current.UserID, name, photoURL)
	if err != nil {
		return err
	}
	s.set(&user, s.Token())
	return nil
}

// CurrentUser returns the signed-in user or nil.
func (s *Session) CurrentUser() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token returns the session token, empty when signed out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Observe calls fn with the current user now and after every change. The
// returned func stops observation.
func (s *Session) Observe(fn func(*models.User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	current := s.user
	s.mu.Unlock()

	fn(copyUser(current))
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) set(user *models.User, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	observers := make([]func(*models.User), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(copyUser(user))
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
