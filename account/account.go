// Package account owns the user records inside the shared document:
// signup, credential check, search and display-name resolution.
package account

import (
	"context"
	"errors"
	"strings"

	"github.com/pborman/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/duochat/duochat/store"
)

var (
	// ErrEmailTaken reports a signup with an already registered email.
	ErrEmailTaken = errors.New("email already exists")

	// ErrBadCredentials reports a failed login.
	ErrBadCredentials = errors.New("invalid credentials")
)

const bcryptCost = 10

// Store provides account operations over the document store. Users
// always live in the document, whichever backend holds the messages.
type Store struct {
	docs store.IDocStore
}

func NewStore(docs store.IDocStore) *Store {
	return &Store{docs: docs}
}

// Create registers a new user and returns its id.
func (s *Store) Create(ctx context.Context, username, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}

	user := &store.User{
		ID:       uuid.New(),
		Username: username,
		Email:    email,
		Password: string(hash),
	}

	if err := s.docs.Update(ctx, func(doc *store.Document) (bool, error) {
		for _, u := range doc.Users {
			if u.Email == email {
				return false, ErrEmailTaken
			}
		}
		doc.Users = append(doc.Users, user)
		return true, nil
	}); err != nil {
		return "", err
	}
	return user.ID, nil
}

// FindByEmail returns the user with the given email, password hash
// included, or nil when no account matches.
func (s *Store) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	var found *store.User
	if err := s.docs.View(ctx, func(doc *store.Document) error {
		for _, u := range doc.Users {
			if u.Email == email {
				found = u
				break
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return found, nil
}

// Login checks email and password, returns the matching user with the
// password hash stripped.
func (s *Store) Login(ctx context.Context, email, password string) (*store.User, error) {
	found, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.Password), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return &store.User{ID: found.ID, Username: found.Username, Email: found.Email}, nil
}

// Search returns users whose username or email contains q, case
// insensitive. Empty query returns nothing. Password hashes are never
// included.
func (s *Store) Search(ctx context.Context, q string) ([]*store.User, error) {
	out := []*store.User{}
	if q == "" {
		return out, nil
	}
	q = strings.ToLower(q)

	if err := s.docs.View(ctx, func(doc *store.Document) error {
		for _, u := range doc.Users {
			if strings.Contains(strings.ToLower(u.Username), q) ||
				strings.Contains(strings.ToLower(u.Email), q) {
				out = append(out, &store.User{ID: u.ID, Username: u.Username, Email: u.Email})
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Username implements store.NameResolver. Unknown ids return "" and no
// error; the caller substitutes its own placeholder.
func (s *Store) Username(ctx context.Context, uid string) (string, error) {
	var name string
	if err := s.docs.View(ctx, func(doc *store.Document) error {
		for _, u := range doc.Users {
			if u.ID == uid {
				name = u.Username
				break
			}
		}
		return nil
	}); err != nil {
		return "", err
	}
	return name, nil
}
