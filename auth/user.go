package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"salescast/db"
)

// Authenticatable is what handlers and templates need to know about the current visitor.
type Authenticatable interface {
	ID() int64
	Username() string
	IsAuthenticated() bool
	IsAnonymous() bool
	CheckPassword(password string) bool
}

// User is a registered account.
type User struct {
	record db.User
}

func NewUser(record db.User) *User {
	return &User{record: record}
}

func (u *User) ID() int64             { return u.record.ID }
func (u *User) Username() string      { return u.record.Username }
func (u *User) Email() string         { return u.record.Email }
func (u *User) CreatedAt() time.Time  { return u.record.CreatedAt }
func (u *User) IsAuthenticated() bool { return true }
func (u *User) IsAnonymous() bool     { return false }

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.record.PasswordHash), []byte(password)) == nil
}

// AnonymousUser stands in for visitors without a session.
type AnonymousUser struct{}

func (AnonymousUser) ID() int64                 { return 0 }
func (AnonymousUser) Username() string          { return "" }
func (AnonymousUser) IsAuthenticated() bool     { return false }
func (AnonymousUser) IsAnonymous() bool         { return true }
func (AnonymousUser) CheckPassword(string) bool { return false }

type userKey struct{}

func WithUser(ctx context.Context, user Authenticatable) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the visitor stored on ctx, or AnonymousUser.
func UserFrom(ctx context.Context) Authenticatable {
	if user, ok := ctx.Value(userKey{}).(Authenticatable); ok && user != nil {
		return user
	}
	return AnonymousUser{}
}
