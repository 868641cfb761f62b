package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// UserStore persists accounts. Emails are stored lower-cased.
type UserStore interface {
	CreateUser(ctx context.Context, u *User, passwordHash string) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	// GetUserByEmail returns the user with its password hash.
	GetUserByEmail(ctx context.Context, email string) (*User, string, error)
	ListUsers(ctx context.Context, role string) ([]User, error)
	CountUsers(ctx context.Context) (map[string]int, error)
}

type SQLUserStore struct {
	db *sql.DB
}

func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

const userColumns = `id, email, full_name, role, is_active, created_at`

func (s *SQLUserStore) CreateUser(ctx context.Context, u *User, passwordHash string) error {
	active := 0
	if u.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, role, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Email, u.FullName, passwordHash, u.Role, active, u.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *SQLUserStore) GetUserByEmail(ctx context.Context, email string) (*User, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE email = $1
		LIMIT 1
	`, email)

	var u User
	var active int
	var createdAt int64
	var hash string
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &active, &createdAt, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("query user: %w", err)
	}
	u.IsActive = active == 1
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, hash, nil
}

func (s *SQLUserStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQLUserStore) CountUsers(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan user count: %w", err)
		}
		out[role] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var active int
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &active, &createdAt); err != nil {
		return nil, err
	}
	u.IsActive = active == 1
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// MemoryUserStore backs DB_DRIVER=memory and tests.
type MemoryUserStore struct {
	mu     sync.RWMutex
	users  map[string]User
	hashes map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: map[string]User{}, hashes: map[string]string{}}
}

func (m *MemoryUserStore) CreateUser(ctx context.Context, u *User, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = *u
	m.hashes[u.ID] = passwordHash
	return nil
}

func (m *MemoryUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryUserStore) GetUserByEmail(ctx context.Context, email string) (*User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, u := range m.users {
		if u.Email == email {
			cp := u
			return &cp, m.hashes[id], nil
		}
	}
	return nil, "", ErrUserNotFound
}

func (m *MemoryUserStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryUserStore) CountUsers(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int{}
	for _, u := range m.users {
		out[u.Role]++
	}
	return out, nil
}
