package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
	"github.com/valinor-ai/gatehouse/internal/scope"
)

const uniqueViolation = "23505"

// Store handles tenant and partner database operations.
type Store struct {
	db database.Querier
}

// NewStore creates a new tenant store.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

var _ scope.Directory = (*Store)(nil)

const tenantColumns = `id, COALESCE(partner_id::text, ''), name, slug, status, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.PartnerID, &t.Name, &t.Slug, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Create inserts a tenant. An empty partnerID creates a direct tenant.
func (s *Store) Create(ctx context.Context, name, slug, partnerID string) (Tenant, error) {
	if err := ValidateSlug(slug); err != nil {
		return Tenant{}, err
	}
	var partner any
	if partnerID != "" {
		if _, err := uuid.Parse(partnerID); err != nil {
			return Tenant{}, ErrPartnerNotFound
		}
		partner = partnerID
	}

	t, err := scanTenant(s.db.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, partner_id) VALUES ($1, $2, $3)
		 RETURNING `+tenantColumns,
		name, slug, partner,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == uniqueViolation:
				return Tenant{}, fmt.Errorf("%w: %s", ErrSlugTaken, slug)
			case pgErr.ConstraintName == "tenants_partner_id_fkey":
				return Tenant{}, ErrPartnerNotFound
			}
		}
		return Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// GetByID retrieves a tenant by its UUID. Malformed ids are reported as not found.
func (s *Store) GetByID(ctx context.Context, id string) (Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Tenant{}, ErrTenantNotFound
	}
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// GetPartner retrieves a partner by its UUID.
func (s *Store) GetPartner(ctx context.Context, id string) (Partner, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Partner{}, ErrPartnerNotFound
	}
	var p Partner
	err := s.db.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM partners WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrPartnerNotFound
		}
		return Partner{}, fmt.Errorf("getting partner: %w", err)
	}
	return p, nil
}

// ListByPartner returns the tenants managed by partnerID.
func (s *Store) ListByPartner(ctx context.Context, partnerID string) ([]Tenant, error) {
	if _, err := uuid.Parse(partnerID); err != nil {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE partner_id = $1 ORDER BY created_at`, partnerID)
}

// List returns the tenants visible through f. An empty filter lists all tenants.
func (s *Store) List(ctx context.Context, f access.Filter) ([]Tenant, error) {
	switch {
	case f.TenantID != "":
		t, err := s.GetByID(ctx, f.TenantID)
		if errors.Is(err, ErrTenantNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if f.PartnerID != "" && t.PartnerID != f.PartnerID {
			return nil, nil
		}
		return []Tenant{t}, nil
	case f.PartnerID != "":
		return s.ListByPartner(ctx, f.PartnerID)
	default:
		return s.query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	}
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]Tenant, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// LookupTenant implements scope.Directory.
func (s *Store) LookupTenant(ctx context.Context, id string) (scope.TenantRecord, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return scope.TenantRecord{}, err
	}
	return scope.TenantRecord{ID: t.ID, PartnerID: t.PartnerID, Name: t.Name}, nil
}

// LookupPartner implements scope.Directory.
func (s *Store) LookupPartner(ctx context.Context, id string) (scope.PartnerRecord, error) {
	p, err := s.GetPartner(ctx, id)
	if err != nil {
		return scope.PartnerRecord{}, err
	}
	return scope.PartnerRecord{ID: p.ID, Name: p.Name}, nil
}
