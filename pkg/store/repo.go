package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// InsufficientBalanceError carries the amounts for the 402 response body.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d points, have %d", e.Required, e.Available)
}

const userColumns = "id, username, api_token, settings, points, created_at"

func newAPIToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "cg_" + base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func (s *Store) CreateUser(ctx context.Context, username string, startPoints int64) (User, error) {
	token, err := newAPIToken()
	if err != nil {
		return User{}, fmt.Errorf("generate api token: %w", err)
	}
	settings, err := DefaultSettings().Encode()
	if err != nil {
		return User{}, fmt.Errorf("encode default settings: %w", err)
	}
	u := User{
		ID:       uuid.NewString(),
		Username: username,
		APIToken: token,
		Settings: settings,
		Points:   startPoints,
	}

	q := s.sql.Insert("users").
		Columns("id", "username", "api_token", "settings", "points").
		Values(u.ID, u.Username, u.APIToken, u.Settings, u.Points)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) scanUser(ctx context.Context, where sq.Eq) (User, error) {
	q := s.sql.Select(userColumns).From("users").Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build user query: %w", err)
	}
	var u User
	err = s.db.QueryRowContext(ctx, sqlStr, args...).
		Scan(&u.ID, &u.Username, &u.APIToken, &u.Settings, &u.Points, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByToken(ctx context.Context, token string) (User, error) {
	return s.scanUser(ctx, sq.Eq{"api_token": token})
}

func (s *Store) GetUserByName(ctx context.Context, username string) (User, error) {
	return s.scanUser(ctx, sq.Eq{"username": username})
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return s.scanUser(ctx, sq.Eq{"id": id})
}

func (s *Store) UpdateSettings(ctx context.Context, userID, settingsJSON string) error {
	q := s.sql.Update("users").Set("settings", settingsJSON).Where(sq.Eq{"id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update settings query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitPoints applies the debit-first policy as one conditional update so
// concurrent chats cannot take the balance negative.
func (s *Store) DebitPoints(ctx context.Context, userID string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	q := s.sql.Update("users").
		Set("points", sq.Expr("points - ?", cost)).
		Where(sq.Eq{"id": userID}).
		Where(sq.Expr("points >= ?", cost))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build debit query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("debit points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit points rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return &InsufficientBalanceError{Required: cost, Available: u.Points}
}

func (s *Store) GrantPoints(ctx context.Context, username string, delta int64) (int64, error) {
	q := s.sql.Update("users").
		Set("points", sq.Expr("points + ?", delta)).
		Where(sq.Eq{"username": username})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build grant query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("grant points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	u, err := s.GetUserByName(ctx, username)
	if err != nil {
		return 0, err
	}
	return u.Points, nil
}
