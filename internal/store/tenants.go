package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateUser  = errors.New("user with this email already exists")
)

type Tenant struct {
	ID        string
	Name      string
	APIKey    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID           string
	TenantID     string
	Email        string
	Username     string
	PasswordHash string
	Role         string
	IsAdmin      bool
	Status       string
	CreatedAt    time.Time
}

type CreateTenantInput struct {
	Name   string
	APIKey string
	Status string
}

type CreateAdminInput struct {
	Email      string
	Username   string
	Password   string
	TenantName string
}

func (s *Store) CreateTenant(ctx context.Context, input CreateTenantInput) (Tenant, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return Tenant{}, err
	}
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		apiKey, err = generateSecret("ak_", 24)
		if err != nil {
			return Tenant{}, err
		}
	}
	now := s.now()
	tenant := Tenant{
		ID:        "tenant_" + uuid.NewString(),
		Name:      name,
		APIKey:    apiKey,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tenants (id, name, api_key, status, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.APIKey,
		tenant.Status,
		now.Unix(),
		now.Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return Tenant{}, fmt.Errorf("%w: api key already in use", ErrInvalidInput)
		}
		return Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return tenant, nil
}

func (s *Store) LookupTenant(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, api_key, status, created_at_unix, updated_at_unix FROM tenants WHERE id = ?`,
		strings.TrimSpace(id),
	)
	return scanTenant(row)
}

// LookupTenantByAPIKey only resolves active tenants.
func (s *Store) LookupTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Tenant{}, ErrTenantNotFound
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, api_key, status, created_at_unix, updated_at_unix FROM tenants WHERE api_key = ? AND status = ?`,
		apiKey,
		StatusActive,
	)
	return scanTenant(row)
}

func (s *Store) lookupTenantByName(ctx context.Context, name string) (Tenant, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, api_key, status, created_at_unix, updated_at_unix FROM tenants WHERE name = ? ORDER BY created_at_unix ASC, id ASC LIMIT 1`,
		strings.TrimSpace(name),
	)
	return scanTenant(row)
}

// ResolveTenant accepts a tenant id or a tenant name.
func (s *Store) ResolveTenant(ctx context.Context, ref string) (Tenant, error) {
	tenant, err := s.LookupTenant(ctx, ref)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return Tenant{}, err
	}
	return s.lookupTenantByName(ctx, ref)
}

func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, api_key, status, created_at_unix, updated_at_unix FROM tenants ORDER BY created_at_unix ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

func (s *Store) SetTenantStatus(ctx context.Context, id, status string) error {
	normalized, err := normalizeStatus(status)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE tenants SET status = ?, updated_at_unix = ? WHERE id = ?`,
		normalized,
		s.now().Unix(),
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("tenant status rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CreateAdmin ensures the named tenant exists and adds an administrator user to it.
func (s *Store) CreateAdmin(ctx context.Context, input CreateAdminInput) (User, Tenant, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)
	if email == "" || username == "" || input.Password == "" {
		return User{}, Tenant{}, fmt.Errorf("%w: email, username and password are required", ErrInvalidInput)
	}
	tenantName := strings.TrimSpace(input.TenantName)
	if tenantName == "" {
		tenantName = "admin"
	}

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&existing)
	if err == nil {
		return User{}, Tenant{}, ErrDuplicateUser
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, Tenant{}, fmt.Errorf("lookup user: %w", err)
	}

	tenant, err := s.lookupTenantByName(ctx, tenantName)
	if errors.Is(err, ErrTenantNotFound) {
		tenant, err = s.CreateTenant(ctx, CreateTenantInput{Name: tenantName})
	}
	if err != nil {
		return User{}, Tenant{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, Tenant{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	user := User{
		ID:           "user_" + uuid.NewString(),
		TenantID:     tenant.ID,
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Role:         "admin",
		IsAdmin:      true,
		Status:       StatusActive,
		CreatedAt:    now,
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (
			id, tenant_id, email, username, password_hash, role, is_admin, status, created_at_unix, updated_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.TenantID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.Role,
		boolToInt(user.IsAdmin),
		user.Status,
		now.Unix(),
		now.Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return User{}, Tenant{}, ErrDuplicateUser
		}
		return User{}, Tenant{}, fmt.Errorf("insert user: %w", err)
	}
	return user, tenant, nil
}

func (s *Store) LookupUserByEmail(ctx context.Context, email string) (User, error) {
	var (
		user      User
		isAdmin   int
		createdAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, tenant_id, email, username, password_hash, role, is_admin, status, created_at_unix FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.TenantID, &user.Email, &user.Username, &user.PasswordHash, &user.Role, &isAdmin, &user.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	user.IsAdmin = isAdmin == 1
	user.CreatedAt = unixToTime(createdAt)
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var (
		tenant    Tenant
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.APIKey, &tenant.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	tenant.CreatedAt = unixToTime(createdAt)
	tenant.UpdatedAt = unixToTime(updatedAt)
	return tenant, nil
}

func generateSecret(prefix string, size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}
