package auth

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewService(db, logger), mock, func() { db.Close() }
}

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Equal(t, HashToken(token), hash)
	assert.NoError(t, ValidateTokenFormat(token))

	// Tokens are unique
	token2, _, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestValidateTokenFormat(t *testing.T) {
	assert.Error(t, ValidateTokenFormat("sk_abc"))
	assert.Error(t, ValidateTokenFormat("kerna_"))
	assert.Error(t, ValidateTokenFormat("kerna_!!!not-base64url!!!"))
	assert.Error(t, ValidateTokenFormat(""))
}

func TestSignUp(t *testing.T) {
	t.Run("creates user and session", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO sessions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, token, err := s.SignUp(context.Background(), "Ada", "Ada@Example.com", "correct-horse", SessionContext{})
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.True(t, strings.HasPrefix(token, TokenPrefix))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505"})

		_, _, err := s.SignUp(context.Background(), "Ada", "ada@example.com", "correct-horse", SessionContext{})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("weak password", func(t *testing.T) {
		s, _, cleanup := newTestService(t)
		defer cleanup()

		_, _, err := s.SignUp(context.Background(), "Ada", "ada@example.com", "short", SessionContext{})
		assert.ErrorIs(t, err, ErrWeakPassword)
	})

	t.Run("invalid email", func(t *testing.T) {
		s, _, cleanup := newTestService(t)
		defer cleanup()

		_, _, err := s.SignUp(context.Background(), "Ada", "not-an-email", "correct-horse", SessionContext{})
		assert.Error(t, err)
	})
}

func TestSignIn(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "email", "password_hash"}).
			AddRow("user-1", "Ada", "ada@example.com", string(hash))
	}

	t.Run("valid credentials", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email, password_hash FROM users").
			WithArgs("ada@example.com").
			WillReturnRows(userRow())
		mock.ExpectExec("INSERT INTO sessions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, token, err := s.SignIn(context.Background(), "ada@example.com", "correct-horse", SessionContext{})
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email, password_hash FROM users").
			WillReturnRows(userRow())

		_, _, err := s.SignIn(context.Background(), "ada@example.com", "wrong", SessionContext{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email, password_hash FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash"}))

		_, _, err := s.SignIn(context.Background(), "ghost@example.com", "whatever", SessionContext{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("social account has no password", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email, password_hash FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash"}).
				AddRow("user-1", "Ada", "ada@example.com", nil))

		_, _, err := s.SignIn(context.Background(), "ada@example.com", "correct-horse", SessionContext{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestValidateSession(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	t.Run("valid session", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()
		s.now = func() time.Time { return now }

		token, hash, err := GenerateToken()
		require.NoError(t, err)

		mock.ExpectQuery("SELECT user_id, expires_at FROM sessions").
			WithArgs(hash).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}).
				AddRow("user-1", now.Add(time.Hour)))

		userID, err := s.ValidateSession(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("expired session", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()
		s.now = func() time.Time { return now }

		token, _, err := GenerateToken()
		require.NoError(t, err)

		mock.ExpectQuery("SELECT user_id, expires_at FROM sessions").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}).
				AddRow("user-1", now.Add(-time.Minute)))

		_, err = s.ValidateSession(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown token", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		token, _, err := GenerateToken()
		require.NoError(t, err)

		mock.ExpectQuery("SELECT user_id, expires_at FROM sessions").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}))

		_, err = s.ValidateSession(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("malformed token skips the database", func(t *testing.T) {
		s, _, cleanup := newTestService(t)
		defer cleanup()

		_, err := s.ValidateSession(context.Background(), "Bearer garbage")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestFindOrCreateOAuthUser(t *testing.T) {
	t.Run("existing user signs in", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email FROM users").
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).
				AddRow("user-1", "Ada", "ada@example.com"))
		mock.ExpectExec("INSERT INTO sessions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, token, err := s.FindOrCreateOAuthUser(context.Background(), &Identity{
			Subject: "google-123", Email: "Ada@example.com", Name: "Ada",
		}, SessionContext{})
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
		assert.NotEmpty(t, token)
	})

	t.Run("first sign-in creates the account", func(t *testing.T) {
		s, mock, cleanup := newTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, name, email FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))
		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO sessions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, _, err := s.FindOrCreateOAuthUser(context.Background(), &Identity{
			Subject: "google-123", Email: "ada@example.com", Name: "Ada", EmailVerified: true,
		}, SessionContext{})
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
	})
}
