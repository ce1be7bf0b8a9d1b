package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionCookie = "salescast_session"
	defaultSessionTTL    = 24 * time.Hour
)

var ErrNoSession = errors.New("no session")

// Session is the verified content of a session cookie.
type Session struct {
	UserID    int64
	Username  string
	SessionID uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type SessionOptions struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// SessionManager keeps the session in an HS256-signed JWT cookie.
type SessionManager struct {
	secret []byte
	cookie string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(opts SessionOptions) (*SessionManager, error) {
	if len(opts.Secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultSessionCookie
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultSessionTTL
	}
	return &SessionManager{
		secret: []byte(opts.Secret),
		cookie: opts.CookieName,
		ttl:    opts.TTL,
		secure: opts.Secure,
		now:    time.Now,
	}, nil
}

func (m *SessionManager) Sign(user Authenticatable) (string, Session, error) {
	now := m.now().UTC()
	session := Session{
		UserID:    user.ID(),
		Username:  user.Username(),
		SessionID: uuid.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Username: session.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(session.UserID, 10),
			ID:        session.SessionID.String(),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", Session{}, err
	}
	return signed, session, nil
}

func (m *SessionManager) Parse(raw string) (Session, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return Session{}, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return Session{}, errors.New("invalid session claims")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, fmt.Errorf("invalid session subject %q", claims.Subject)
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	return Session{
		UserID:    userID,
		Username:  claims.Username,
		SessionID: sessionID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Issue signs a session for user and sets it as an HttpOnly cookie.
func (m *SessionManager) Issue(w http.ResponseWriter, user Authenticatable) (Session, error) {
	token, session, err := m.Sign(user)
	if err != nil {
		return Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}

// Read returns ErrNoSession when the request carries no cookie.
func (m *SessionManager) Read(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(m.cookie)
	if err != nil || cookie.Value == "" {
		return Session{}, ErrNoSession
	}
	return m.Parse(cookie.Value)
}

func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
