// Package auth owns user accounts and bearer sessions. Session tokens are
// opaque: the server stores only their SHA-256 hash, so a database leak
// exposes no usable credentials. The rest of the system trusts the user
// ID this package yields and never inspects credentials itself.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for a bad email/password pair
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when the email is already registered
	ErrEmailTaken = errors.New("email already registered")

	// ErrUnauthenticated is returned for missing, invalid or expired
	// sessions
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrWeakPassword is returned when the password is too short
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// SessionTTL is how long a session stays valid without re-authentication
const SessionTTL = 30 * 24 * time.Hour

// User is a registered account
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SessionContext carries request metadata stored with each session
type SessionContext struct {
	IPAddress string
	UserAgent string
}

// Service manages accounts and sessions over PostgreSQL
type Service struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates an auth service
func NewService(db *sql.DB, logger *logrus.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

// SignUp registers an email/password account and opens a session
func (s *Service) SignUp(ctx context.Context, name, email, password string, sc SessionContext) (*User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("invalid email address")
	}
	if len(password) < 8 {
		return nil, "", ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{ID: uuid.NewString(), Name: name, Email: email}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, string(hash))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.createSession(ctx, user.ID, sc)
	if err != nil {
		return nil, "", err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID}).Info("User signed up")
	return user, token, nil
}

// SignIn authenticates an email/password pair and opens a session
func (s *Service) SignIn(ctx context.Context, email, password string, sc SessionContext) (*User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user := &User{}
	var passwordHash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash FROM users WHERE email = $1`, email).
		Scan(&user.ID, &user.Name, &user.Email, &passwordHash)
	if err == sql.ErrNoRows {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}
	// Social-login accounts have no password hash
	if !passwordHash.Valid {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.createSession(ctx, user.ID, sc)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// FindOrCreateOAuthUser resolves a social-login identity to a local
// account, creating one on first sign-in, and opens a session.
func (s *Service) FindOrCreateOAuthUser(ctx context.Context, id *Identity, sc SessionContext) (*User, string, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return nil, "", fmt.Errorf("identity provider returned no email")
	}

	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE email = $1`, email).
		Scan(&user.ID, &user.Name, &user.Email)
	if err == sql.ErrNoRows {
		user = &User{ID: uuid.NewString(), Name: id.Name, Email: email}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users (id, name, email, email_verified) VALUES ($1, $2, $3, $4)`,
			user.ID, user.Name, user.Email, id.EmailVerified)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create oauth user: %w", err)
		}
		s.logger.WithField("user_id", user.ID).Info("User created via social login")
	} else if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	token, err := s.createSession(ctx, user.ID, sc)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ValidateSession resolves a bearer token to a user ID
func (s *Service) ValidateSession(ctx context.Context, token string) (string, error) {
	if ValidateTokenFormat(token) != nil {
		return "", ErrUnauthenticated
	}

	var userID string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE token_hash = $1`,
		HashToken(token)).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	if expiresAt.Before(s.now()) {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// SignOut revokes the session for the given token
func (s *Service) SignOut(ctx context.Context, token string) error {
	if ValidateTokenFormat(token) != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = $1`, HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes stale sessions, returning how many
func (s *Service) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Service) createSession(ctx context.Context, userID string, sc SessionContext) (string, error) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), userID, tokenHash, s.now().Add(SessionTTL), sc.IPAddress, sc.UserAgent)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}
