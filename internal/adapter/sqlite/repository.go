package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/vendoriq/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ domain.ApplicationRepository = (*ApplicationRepository)(nil)

// ApplicationRepository implements domain.ApplicationRepository using SQLite.
type ApplicationRepository struct {
	db  *sql.DB
	now func() time.Time
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*ApplicationRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready repository.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*ApplicationRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &ApplicationRepository{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (r *ApplicationRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *ApplicationRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

const columns = `id, name, email, phone, status,
	username, password_hash, sealed_password,
	token_digest, sealed_token, token_expires_at,
	company_name, registration_number, tax_id, address, documents,
	created_at, updated_at`

func (r *ApplicationRepository) Insert(ctx context.Context, a domain.Application) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vendor_applications (id, name, email, phone, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Contact.Name, a.Contact.Email, a.Contact.Phone, string(a.Status),
		a.CreatedAt.UTC().Format(timeFormat),
		a.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "vendor_applications.email") {
			return &domain.DuplicateApplicationError{Email: a.Contact.Email}
		}
		return fmt.Errorf("inserting application: %w", err)
	}
	return nil
}

func (r *ApplicationRepository) Get(ctx context.Context, id string) (domain.Application, error) {
	a, err := scanApplication(r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM vendor_applications WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Application{}, domain.ErrApplicationNotFound
	}
	return a, err
}

func (r *ApplicationRepository) Find(ctx context.Context, filter domain.Filter) ([]domain.Application, error) {
	query := `SELECT ` + columns + ` FROM vendor_applications`
	var (
		where []string
		args  []any
	)

	if filter.Status != nil {
		where = append(where, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if filter.Email != "" {
		where = append(where, `email = ?`)
		args = append(args, filter.Email)
	}
	if filter.Username != "" {
		where = append(where, `username = ?`)
		args = append(args, filter.Username)
	}
	if filter.TokenDigest != "" {
		where = append(where, `token_digest = ?`)
		args = append(args, filter.TokenDigest)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	query += ` ORDER BY created_at ASC, id ASC`

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding applications: %w", err)
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}

	return apps, rows.Err()
}

// UpdateIfStatus writes patch in a single statement guarded by the expected
// status (and token digest, when the patch names one).
func (r *ApplicationRepository) UpdateIfStatus(
	ctx context.Context,
	id string,
	expected domain.Status,
	patch domain.Patch,
) (domain.Application, error) {
	set := []string{`status = ?`, `updated_at = ?`}
	args := []any{string(patch.Status), r.now().UTC().Format(timeFormat)}

	if c := patch.Contact; c != nil {
		set = append(set, `name = ?`, `email = ?`, `phone = ?`)
		args = append(args, c.Name, c.Email, c.Phone)
	}

	if c := patch.Credentials; c != nil {
		set = append(set, `username = ?`, `password_hash = ?`)
		args = append(args, c.Username, c.PasswordHash)
		if !patch.ClearSealedPassword {
			set = append(set, `sealed_password = ?`)
			args = append(args, nullIfEmpty(c.SealedPassword))
		}
	}
	if patch.ClearSealedPassword {
		set = append(set, `sealed_password = NULL`)
	}

	switch {
	case patch.ClearToken:
		set = append(set, `token_digest = NULL`, `sealed_token = NULL`, `token_expires_at = NULL`)
	case patch.Token != nil:
		set = append(set, `token_digest = ?`, `sealed_token = ?`, `token_expires_at = ?`)
		args = append(args, patch.Token.Digest, patch.Token.Sealed, patch.Token.ExpiresAt.UTC().Format(timeFormat))
	}

	if p := patch.Profile; p != nil {
		docs, err := json.Marshal(p.Documents)
		if err != nil {
			return domain.Application{}, fmt.Errorf("encoding documents: %w", err)
		}
		set = append(set,
			`company_name = ?`, `registration_number = ?`, `tax_id = ?`, `address = ?`, `documents = ?`)
		args = append(args, p.CompanyName, p.RegistrationNumber, p.TaxID, p.Address, string(docs))
	}

	query := `UPDATE vendor_applications SET ` + strings.Join(set, `, `) + ` WHERE id = ? AND status = ?`
	args = append(args, id, string(expected))
	if patch.ExpectTokenDigest != "" {
		query += ` AND token_digest = ?`
		args = append(args, patch.ExpectTokenDigest)
	}
	query += ` RETURNING ` + columns

	updated, err := scanApplication(r.db.QueryRowContext(ctx, query, args...))
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.Application{}, r.missOrConflict(ctx, id, expected)
	case isUniqueViolation(err) && patch.Contact != nil && strings.Contains(err.Error(), "vendor_applications.email"):
		return domain.Application{}, &domain.DuplicateApplicationError{Email: patch.Contact.Email}
	case isUniqueViolation(err) && patch.Credentials != nil:
		return domain.Application{}, &domain.UsernameConflictError{Username: patch.Credentials.Username}
	default:
		return domain.Application{}, fmt.Errorf("updating application: %w", err)
	}
}

// missOrConflict explains why a guarded update matched no row.
func (r *ApplicationRepository) missOrConflict(ctx context.Context, id string, expected domain.Status) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM vendor_applications WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrApplicationNotFound
	}
	if err != nil {
		return fmt.Errorf("checking application: %w", err)
	}
	return &domain.ConflictError{ID: id, Expected: expected}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(s scanner) (domain.Application, error) {
	var (
		a                                        domain.Application
		status, createdAt, updatedAt             string
		username, passwordHash, sealedPassword   sql.NullString
		tokenDigest, sealedToken, tokenExpiresAt sql.NullString
		company, regNumber, taxID, address, docs sql.NullString
	)

	err := s.Scan(
		&a.ID, &a.Contact.Name, &a.Contact.Email, &a.Contact.Phone, &status,
		&username, &passwordHash, &sealedPassword,
		&tokenDigest, &sealedToken, &tokenExpiresAt,
		&company, &regNumber, &taxID, &address, &docs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Application{}, err
		}
		return domain.Application{}, fmt.Errorf("scanning application: %w", err)
	}

	a.Status = domain.Status(status)
	if a.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return domain.Application{}, fmt.Errorf("scanning application %s: created_at: %w", a.ID, err)
	}
	if a.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return domain.Application{}, fmt.Errorf("scanning application %s: updated_at: %w", a.ID, err)
	}

	if username.Valid {
		a.Credentials = &domain.Credentials{
			Username:       username.String,
			PasswordHash:   passwordHash.String,
			SealedPassword: sealedPassword.String,
		}
	}

	if tokenDigest.Valid {
		expires, err := time.Parse(timeFormat, tokenExpiresAt.String)
		if err != nil {
			return domain.Application{}, fmt.Errorf("scanning application %s: token_expires_at: %w", a.ID, err)
		}
		a.Token = &domain.SecureToken{
			Digest:    tokenDigest.String,
			Sealed:    sealedToken.String,
			ExpiresAt: expires,
		}
	}

	if company.Valid {
		p := &domain.BusinessProfile{
			CompanyName:        company.String,
			RegistrationNumber: regNumber.String,
			TaxID:              taxID.String,
			Address:            address.String,
		}
		if docs.Valid && docs.String != "" {
			if err := json.Unmarshal([]byte(docs.String), &p.Documents); err != nil {
				return domain.Application{}, fmt.Errorf("decoding documents: %w", err)
			}
		}
		a.Profile = p
	}

	return a, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
