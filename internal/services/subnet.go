package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/HerbHall/netreach/internal/netaddr"
	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// SubnetRepository provides access to managed IPv4 subnets.
type SubnetRepository interface {
	Get(ctx context.Context, id string) (*models.Subnet, error)
	List(ctx context.Context) ([]models.Subnet, error)
	// Create validates and normalizes the CIDR before inserting.
	Create(ctx context.Context, subnet *models.Subnet) error
	Update(ctx context.Context, subnet *models.Subnet) error
	Delete(ctx context.Context, id string) error
	// ResolveForIP returns the first subnet whose range contains ip.
	ResolveForIP(ctx context.Context, ip string) (*models.Subnet, error)
}

// Compile-time interface guard.
var _ SubnetRepository = (*SQLiteSubnetRepository)(nil)

// SQLiteSubnetRepository implements SubnetRepository using SQLite.
type SQLiteSubnetRepository struct {
	db DBTX
}

// NewSQLiteSubnetRepository creates a SubnetRepository and runs the
// inventory migrations.
func NewSQLiteSubnetRepository(ctx context.Context, store plugin.Store) (*SQLiteSubnetRepository, error) {
	if err := MigrateInventory(ctx, store); err != nil {
		return nil, err
	}
	return &SQLiteSubnetRepository{db: store.DB()}, nil
}

// WithTx returns a repository bound to tx.
func (r *SQLiteSubnetRepository) WithTx(tx *sql.Tx) *SQLiteSubnetRepository {
	return &SQLiteSubnetRepository{db: tx}
}

const subnetColumns = `id, name, cidr, dhcp_start, dhcp_end, vlan_id, dns1, dns2, description`

func (r *SQLiteSubnetRepository) Get(ctx context.Context, id string) (*models.Subnet, error) {
	s, err := scanSubnet(r.db.QueryRowContext(ctx,
		`SELECT `+subnetColumns+` FROM inventory_subnets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subnet %q: %w", id, err)
	}
	return s, nil
}

func (r *SQLiteSubnetRepository) List(ctx context.Context) ([]models.Subnet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subnetColumns+` FROM inventory_subnets ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list subnets: %w", err)
	}
	defer rows.Close()

	subnets := []models.Subnet{}
	for rows.Next() {
		s, err := scanSubnet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subnet row: %w", err)
		}
		subnets = append(subnets, *s)
	}
	return subnets, rows.Err()
}

func (r *SQLiteSubnetRepository) Create(ctx context.Context, s *models.Subnet) error {
	info, err := netaddr.ParseCIDR(s.CIDR)
	if err != nil {
		return err
	}
	s.CIDR = info.CIDR
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inventory_subnets (`+subnetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.CIDR, s.DHCPStart, s.DHCPEnd, nullInt(s.VLANID), s.DNS1, s.DNS2, s.Description,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create subnet: %w", err)
	}
	return nil
}

func (r *SQLiteSubnetRepository) Update(ctx context.Context, s *models.Subnet) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inventory_subnets SET
			name = ?, cidr = ?, dhcp_start = ?, dhcp_end = ?, vlan_id = ?, dns1 = ?, dns2 = ?, description = ?
		WHERE id = ?`,
		s.Name, s.CIDR, s.DHCPStart, s.DHCPEnd, nullInt(s.VLANID), s.DNS1, s.DNS2, s.Description,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subnet %q: %w", s.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteSubnetRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM inventory_subnets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subnet %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteSubnetRepository) ResolveForIP(ctx context.Context, ip string) (*models.Subnet, error) {
	subnets, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	cidrs := make([]string, len(subnets))
	for i := range subnets {
		cidrs[i] = subnets[i].CIDR
	}
	i, ok := netaddr.FindContaining(ip, cidrs)
	if !ok {
		return nil, ErrNotFound
	}
	return &subnets[i], nil
}

func scanSubnet(row RowScanner) (*models.Subnet, error) {
	var s models.Subnet
	var vlan sql.NullInt64
	if err := row.Scan(&s.ID, &s.Name, &s.CIDR, &s.DHCPStart, &s.DHCPEnd, &vlan, &s.DNS1, &s.DNS2, &s.Description); err != nil {
		return nil, err
	}
	if vlan.Valid {
		v := int(vlan.Int64)
		s.VLANID = &v
	}
	return &s, nil
}
