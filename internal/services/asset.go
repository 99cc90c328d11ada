package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so repositories can run
// inside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AssetFilter controls which assets are returned by List.
type AssetFilter struct {
	Search   string // Name, hostname, IP or MAC substring.
	Category string
	Online   *bool
}

// AssetRepository provides CRUD access to tracked assets.
type AssetRepository interface {
	// Get returns a single asset by ID.
	Get(ctx context.Context, id string) (*models.Asset, error)

	// List returns a filtered, paginated list of assets.
	List(ctx context.Context, filter AssetFilter, opts ListOptions) (*ListResult[models.Asset], error)

	// All returns every asset in insertion order.
	All(ctx context.Context) ([]models.Asset, error)

	// Create inserts a new asset. If asset.ID is empty, a UUID is generated.
	Create(ctx context.Context, asset *models.Asset) error

	// Update writes every mutable field of an existing asset.
	Update(ctx context.Context, asset *models.Asset) error

	// SetHost assigns (or clears, with "") the asset's host reference.
	SetHost(ctx context.Context, id, hostID string) error

	// SetCategory replaces the asset's category.
	SetCategory(ctx context.Context, id, category string) error

	// Delete removes an asset by ID.
	Delete(ctx context.Context, id string) error
}

// Compile-time interface guard.
var _ AssetRepository = (*SQLiteAssetRepository)(nil)

// SQLiteAssetRepository implements AssetRepository using SQLite.
type SQLiteAssetRepository struct {
	db DBTX
}

// NewSQLiteAssetRepository creates an AssetRepository and runs the inventory
// migrations.
func NewSQLiteAssetRepository(ctx context.Context, store plugin.Store) (*SQLiteAssetRepository, error) {
	if err := MigrateInventory(ctx, store); err != nil {
		return nil, err
	}
	return &SQLiteAssetRepository{db: store.DB()}, nil
}

// WithTx returns a repository bound to tx.
func (r *SQLiteAssetRepository) WithTx(tx *sql.Tx) *SQLiteAssetRepository {
	return &SQLiteAssetRepository{db: tx}
}

// AssetColumns is the shared column list for asset queries, in ScanAsset order.
const AssetColumns = `id, name, hostname, mac_address, ip_address, manufacturer, model,
	category, is_infrastructure, is_online, is_status_tracked, ignore_offline,
	monitor_mode, monitor_port, monitor_use_https, monitor_http_path,
	host_asset_id, parent_asset_id, manual_upstream_asset_id, is_topology_root,
	upstream_name, upstream_mac, upstream_connection, connection_type, connection_detail,
	is_proxmox_host, proxmox_profile, proxmox_node,
	last_seen_at, last_online_at, last_rollup_at, created_at`

func (r *SQLiteAssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+AssetColumns+` FROM inventory_assets WHERE id = ?`, id)
	a, err := ScanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset %q: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteAssetRepository) List(ctx context.Context, filter AssetFilter, opts ListOptions) (*ListResult[models.Asset], error) {
	opts = opts.normalized()

	where := "1=1"
	var args []any
	if filter.Search != "" {
		where += " AND (name LIKE ? OR hostname LIKE ? OR ip_address LIKE ? OR mac_address LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if filter.Category != "" {
		where += " AND category = ? COLLATE NOCASE"
		args = append(args, filter.Category)
	}
	if filter.Online != nil {
		where += " AND is_online = ?"
		args = append(args, *filter.Online)
	}

	var total int
	//nolint:gosec // where uses parameterized placeholders only
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM inventory_assets WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}

	//nolint:gosec // where uses placeholders and orderBy reads an allow-list
	query := fmt.Sprintf(
		"SELECT %s FROM inventory_assets WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		AssetColumns, where, opts.orderBy(),
	)
	args = append(args, opts.Limit, opts.Offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &ListResult[models.Asset]{Items: items, Total: total}, nil
}

func (r *SQLiteAssetRepository) All(ctx context.Context) ([]models.Asset, error) {
	return r.query(ctx, `SELECT `+AssetColumns+` FROM inventory_assets ORDER BY rowid`)
}

// Trackable returns assets the reconciliation pass considers: those with a
// MAC address or a custom monitor mode, in insertion order.
func (r *SQLiteAssetRepository) Trackable(ctx context.Context) ([]models.Asset, error) {
	return r.query(ctx, `SELECT `+AssetColumns+` FROM inventory_assets
		WHERE TRIM(mac_address) <> '' OR (monitor_mode <> '' AND monitor_mode <> ?)
		ORDER BY rowid`, string(models.MonitorNormal))
}

func (r *SQLiteAssetRepository) Create(ctx context.Context, a *models.Asset) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.MonitorMode == "" {
		a.MonitorMode = models.MonitorNormal
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_assets (`+AssetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Hostname, a.MACAddress, a.IPAddress, a.Manufacturer, a.Model,
		a.Category, a.IsInfrastructure, a.IsOnline, a.IsStatusTracked, a.IgnoreOffline,
		string(a.MonitorMode), nullInt(a.MonitorPort), a.MonitorUseHTTPS, a.MonitorHTTPPath,
		a.HostAssetID, a.ParentAssetID, a.ManualUpstreamAssetID, a.IsTopologyRoot,
		a.UpstreamName, a.UpstreamMAC, a.UpstreamConnection, a.ConnectionType, a.ConnectionDetail,
		a.IsProxmoxHost, a.ProxmoxProfile, a.ProxmoxNode,
		nullTime(a.LastSeenAt), nullTime(a.LastOnlineAt), nullTime(a.LastRollupAt), a.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (r *SQLiteAssetRepository) Update(ctx context.Context, a *models.Asset) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inventory_assets SET
			name = ?, hostname = ?, mac_address = ?, ip_address = ?, manufacturer = ?, model = ?,
			category = ?, is_infrastructure = ?, is_online = ?, is_status_tracked = ?, ignore_offline = ?,
			monitor_mode = ?, monitor_port = ?, monitor_use_https = ?, monitor_http_path = ?,
			host_asset_id = ?, parent_asset_id = ?, manual_upstream_asset_id = ?, is_topology_root = ?,
			upstream_name = ?, upstream_mac = ?, upstream_connection = ?, connection_type = ?, connection_detail = ?,
			is_proxmox_host = ?, proxmox_profile = ?, proxmox_node = ?,
			last_seen_at = ?, last_online_at = ?, last_rollup_at = ?
		WHERE id = ?`,
		a.Name, a.Hostname, a.MACAddress, a.IPAddress, a.Manufacturer, a.Model,
		a.Category, a.IsInfrastructure, a.IsOnline, a.IsStatusTracked, a.IgnoreOffline,
		string(a.MonitorMode), nullInt(a.MonitorPort), a.MonitorUseHTTPS, a.MonitorHTTPPath,
		a.HostAssetID, a.ParentAssetID, a.ManualUpstreamAssetID, a.IsTopologyRoot,
		a.UpstreamName, a.UpstreamMAC, a.UpstreamConnection, a.ConnectionType, a.ConnectionDetail,
		a.IsProxmoxHost, a.ProxmoxProfile, a.ProxmoxNode,
		nullTime(a.LastSeenAt), nullTime(a.LastOnlineAt), nullTime(a.LastRollupAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset %q: %w", a.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteAssetRepository) SetHost(ctx context.Context, id, hostID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE inventory_assets SET host_asset_id = ? WHERE id = ?`, hostID, id)
	if err != nil {
		return fmt.Errorf("set host of asset %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteAssetRepository) SetCategory(ctx context.Context, id, category string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE inventory_assets SET category = ? WHERE id = ?`, category, id)
	if err != nil {
		return fmt.Errorf("set category of asset %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteAssetRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM inventory_assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteAssetRepository) query(ctx context.Context, query string, args ...any) ([]models.Asset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := []models.Asset{}
	for rows.Next() {
		a, err := ScanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

// RowScanner is implemented by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanAsset scans one row selected with AssetColumns.
func ScanAsset(row RowScanner) (*models.Asset, error) {
	var a models.Asset
	var mode string
	var port sql.NullInt64
	var lastSeen, lastOnline, lastRollup sql.NullTime
	err := row.Scan(
		&a.ID, &a.Name, &a.Hostname, &a.MACAddress, &a.IPAddress, &a.Manufacturer, &a.Model,
		&a.Category, &a.IsInfrastructure, &a.IsOnline, &a.IsStatusTracked, &a.IgnoreOffline,
		&mode, &port, &a.MonitorUseHTTPS, &a.MonitorHTTPPath,
		&a.HostAssetID, &a.ParentAssetID, &a.ManualUpstreamAssetID, &a.IsTopologyRoot,
		&a.UpstreamName, &a.UpstreamMAC, &a.UpstreamConnection, &a.ConnectionType, &a.ConnectionDetail,
		&a.IsProxmoxHost, &a.ProxmoxProfile, &a.ProxmoxNode,
		&lastSeen, &lastOnline, &lastRollup, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.MonitorMode = models.MonitorMode(mode)
	if port.Valid {
		p := int(port.Int64)
		a.MonitorPort = &p
	}
	a.LastSeenAt = timePtr(lastSeen)
	a.LastOnlineAt = timePtr(lastOnline)
	a.LastRollupAt = timePtr(lastRollup)
	return &a, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// nullTime stores timestamps in UTC so lexical comparisons in SQL hold.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
