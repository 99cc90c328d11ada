package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface guard.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository implements Repository on the shared SQLite store. Asset
// and subnet rows are owned by the inventory tables; everything else lives in
// reconcile_* tables.
type SQLiteRepository struct {
	store   plugin.Store
	assets  *services.SQLiteAssetRepository
	subnets *services.SQLiteSubnetRepository
}

// NewSQLiteRepository runs the inventory and reconcile migrations and returns
// a repository.
func NewSQLiteRepository(ctx context.Context, store plugin.Store) (*SQLiteRepository, error) {
	assets, err := services.NewSQLiteAssetRepository(ctx, store)
	if err != nil {
		return nil, err
	}
	subnets, err := services.NewSQLiteSubnetRepository(ctx, store)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, "reconcile", migrations); err != nil {
		return nil, fmt.Errorf("reconcile migrations: %w", err)
	}
	return &SQLiteRepository{store: store, assets: assets, subnets: subnets}, nil
}

func (r *SQLiteRepository) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		if snap.Assets, err = r.assets.WithTx(tx).Trackable(ctx); err != nil {
			return err
		}
		if snap.Subnets, err = r.subnets.WithTx(tx).List(ctx); err != nil {
			return err
		}
		loaders := []func(context.Context, *sql.Tx, *Snapshot) error{
			loadOpenOffline,
			loadOpenFirmware,
			loadIPHistory,
			loadMACSets,
		}
		for _, load := range loaders {
			if err := load(ctx, tx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func loadOpenOffline(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, asset_id, name_at_time, ip_at_time, went_offline_at, came_online_at,
		       acknowledged, acknowledged_at, source
		FROM reconcile_offline_alerts
		WHERE came_online_at IS NULL
		ORDER BY went_offline_at ASC`)
	if err != nil {
		return fmt.Errorf("query open offline alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.OfflineAlert
		var cameOnline, ackAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.AssetID, &a.NameAtTime, &a.IPAtTime, &a.WentOfflineAt,
			&cameOnline, &a.Acknowledged, &ackAt, &a.Source); err != nil {
			return fmt.Errorf("scan offline alert: %w", err)
		}
		a.CameOnlineAt = timePtr(cameOnline)
		a.AcknowledgedAt = timePtr(ackAt)
		// Ascending order leaves the newest open alert in the map.
		snap.OpenOffline[a.AssetID] = &a
	}
	return rows.Err()
}

func loadOpenFirmware(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, asset_id, name_at_time, mac_at_time, model_at_time, current_version,
		       target_version, detected_at, resolved_at, acknowledged, acknowledged_at, source
		FROM reconcile_firmware_alerts
		WHERE resolved_at IS NULL
		ORDER BY detected_at ASC`)
	if err != nil {
		return fmt.Errorf("query open firmware alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.FirmwareAlert
		var resolved, ackAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.AssetID, &a.NameAtTime, &a.MACAtTime, &a.ModelAtTime,
			&a.CurrentVersion, &a.TargetVersion, &a.DetectedAt, &resolved, &a.Acknowledged,
			&ackAt, &a.Source); err != nil {
			return fmt.Errorf("scan firmware alert: %w", err)
		}
		a.ResolvedAt = timePtr(resolved)
		a.AcknowledgedAt = timePtr(ackAt)
		snap.OpenFirmware[a.AssetID] = append(snap.OpenFirmware[a.AssetID], &a)
	}
	return rows.Err()
}

func loadIPHistory(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT asset_id FROM reconcile_ip_history`)
	if err != nil {
		return fmt.Errorf("query ip history assets: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan ip history asset: %w", err)
		}
		snap.HasIPHistory[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, asset_id, ip_address, port, source, first_seen
		FROM reconcile_ip_history
		WHERE last_seen IS NULL
		ORDER BY first_seen ASC`)
	if err != nil {
		return fmt.Errorf("query open ip history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h models.IPHistoryInterval
		var port sql.NullInt64
		if err := rows.Scan(&h.ID, &h.AssetID, &h.IPAddress, &port, &h.Source, &h.FirstSeen); err != nil {
			return fmt.Errorf("scan ip history: %w", err)
		}
		if port.Valid {
			p := int(port.Int64)
			h.Port = &p
		}
		snap.OpenIPHistory[h.AssetID] = &h
	}
	return rows.Err()
}

func loadMACSets(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	sets := []struct {
		query string
		into  map[string]bool
	}{
		{`SELECT mac FROM reconcile_ignored_macs`, snap.IgnoredMACs},
		{`SELECT mac FROM reconcile_discovery_alerts WHERE acknowledged = 0`, snap.OpenDiscoveryMACs},
	}
	for _, s := range sets {
		rows, err := tx.QueryContext(ctx, s.query)
		if err != nil {
			return fmt.Errorf("query mac set: %w", err)
		}
		for rows.Next() {
			var mac string
			if err := rows.Scan(&mac); err != nil {
				rows.Close()
				return fmt.Errorf("scan mac: %w", err)
			}
			s.into[unifi.NormalizeMAC(mac)] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) Apply(ctx context.Context, cs *Changeset) error {
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, cs.Run); err != nil {
			return err
		}
		assets := r.assets.WithTx(tx)
		for _, a := range cs.Assets {
			if err := assets.Update(ctx, a); err != nil {
				return fmt.Errorf("update asset %q: %w", a.ID, err)
			}
		}
		subnets := r.subnets.WithTx(tx)
		for _, s := range cs.Subnets {
			if err := subnets.Update(ctx, s); err != nil {
				return fmt.Errorf("update subnet %q: %w", s.ID, err)
			}
		}
		steps := []func(context.Context, *sql.Tx, *Changeset) error{
			replaceWAN,
			upsertOfflineAlerts,
			upsertFirmwareAlerts,
			upsertIPHistory,
			insertDiscoveryAlerts,
			insertStatusEvents,
			insertChangeLogs,
			mergeRollups,
			prune,
		}
		for _, step := range steps {
			if err := step(ctx, tx, cs); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRun(ctx context.Context, tx *sql.Tx, run models.RunLog) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reconcile_runs (id, source, started_at, finished_at, duration_ms, changed_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedAt.UTC(), nullTime(run.FinishedAt), run.DurationMs,
		run.ChangedCount, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func replaceWAN(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	if len(cs.WAN) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reconcile_wan_status`); err != nil {
		return fmt.Errorf("clear wan status: %w", err)
	}
	for _, w := range cs.WAN {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_wan_status (gateway_name, gateway_mac, interface_name, is_up, ip_address, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			w.GatewayName, w.GatewayMAC, w.InterfaceName, nullBool(w.IsUp), w.IPAddress, w.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert wan status: %w", err)
		}
	}
	return nil
}

func upsertOfflineAlerts(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, a := range cs.OfflineAlerts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_offline_alerts (id, asset_id, name_at_time, ip_at_time, went_offline_at,
				came_online_at, acknowledged, acknowledged_at, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				came_online_at = excluded.came_online_at,
				acknowledged = excluded.acknowledged,
				acknowledged_at = excluded.acknowledged_at`,
			a.ID, a.AssetID, a.NameAtTime, a.IPAtTime, a.WentOfflineAt.UTC(),
			nullTime(a.CameOnlineAt), a.Acknowledged, nullTime(a.AcknowledgedAt), a.Source,
		)
		if err != nil {
			return fmt.Errorf("upsert offline alert %q: %w", a.ID, err)
		}
	}
	return nil
}

func upsertFirmwareAlerts(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, a := range cs.FirmwareAlerts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_firmware_alerts (id, asset_id, name_at_time, mac_at_time, model_at_time,
				current_version, target_version, detected_at, resolved_at, acknowledged, acknowledged_at, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				current_version = excluded.current_version,
				resolved_at = excluded.resolved_at,
				acknowledged = excluded.acknowledged,
				acknowledged_at = excluded.acknowledged_at`,
			a.ID, a.AssetID, a.NameAtTime, a.MACAtTime, a.ModelAtTime,
			a.CurrentVersion, a.TargetVersion, a.DetectedAt.UTC(), nullTime(a.ResolvedAt),
			a.Acknowledged, nullTime(a.AcknowledgedAt), a.Source,
		)
		if err != nil {
			return fmt.Errorf("upsert firmware alert %q: %w", a.ID, err)
		}
	}
	return nil
}

func upsertIPHistory(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, h := range cs.IPHistory {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_ip_history (id, asset_id, ip_address, port, source, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET last_seen = excluded.last_seen`,
			h.ID, h.AssetID, h.IPAddress, nullInt(h.Port), h.Source, h.FirstSeen.UTC(), nullTime(h.LastSeen),
		)
		if err != nil {
			return fmt.Errorf("upsert ip history %q: %w", h.ID, err)
		}
	}
	return nil
}

func insertDiscoveryAlerts(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, a := range cs.DiscoveryAlerts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_discovery_alerts (id, mac, name, hostname, ip_address, manufacturer,
				connection_type, upstream_name, upstream_mac, upstream_connection, connection_detail,
				is_online, detected_at, acknowledged, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.MAC, a.Name, a.Hostname, a.IPAddress, a.Manufacturer,
			a.ConnectionType, a.UpstreamName, a.UpstreamMAC, a.UpstreamConnection, a.ConnectionDetail,
			a.IsOnline, a.DetectedAt.UTC(), a.Acknowledged, a.Source,
		)
		if err != nil {
			return fmt.Errorf("insert discovery alert %q: %w", a.MAC, err)
		}
	}
	return nil
}

func insertStatusEvents(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, e := range cs.StatusEvents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_status_events (id, asset_id, is_online, changed_at, source)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.AssetID, e.IsOnline, e.ChangedAt.UTC(), e.Source,
		)
		if err != nil {
			return fmt.Errorf("insert status event: %w", err)
		}
	}
	return nil
}

func insertChangeLogs(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, c := range cs.ChangeLogs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_change_logs (run_id, asset_id, asset_name, ip_address, field, old_value, new_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.RunID, c.AssetID, c.AssetName, c.IPAddress, c.Field, c.OldValue, c.NewValue,
		)
		if err != nil {
			return fmt.Errorf("insert change log: %w", err)
		}
	}
	return nil
}

// mergeRollups adds increments to existing day rows, keeping observed >= online.
func mergeRollups(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	for _, r := range cs.Rollups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_daily_rollups (asset_id, date, online_seconds, observed_seconds, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (asset_id, date) DO UPDATE SET
				online_seconds = online_seconds + excluded.online_seconds,
				observed_seconds = MAX(observed_seconds + excluded.observed_seconds,
				                       online_seconds + excluded.online_seconds),
				updated_at = excluded.updated_at`,
			r.AssetID, r.Date, r.OnlineSeconds, max(r.ObservedSeconds, r.OnlineSeconds), r.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("merge rollup %s/%s: %w", r.AssetID, r.Date, err)
		}
	}
	return nil
}

func prune(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	if cs.Prune == nil {
		return nil
	}
	stmts := []struct {
		query string
		arg   any
	}{
		{`DELETE FROM reconcile_status_events WHERE changed_at < ?`, cs.Prune.EventsBefore.UTC()},
		{`DELETE FROM reconcile_daily_rollups WHERE date < ?`, cs.Prune.RollupsBefore},
		{`DELETE FROM reconcile_change_logs WHERE run_id IN (
			SELECT id FROM reconcile_runs WHERE started_at < ?)`, cs.Prune.RunsBefore.UTC()},
		{`DELETE FROM reconcile_runs WHERE started_at < ?`, cs.Prune.RunsBefore.UTC()},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.arg); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) RecordRun(ctx context.Context, run models.RunLog) error {
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		return insertRun(ctx, tx, run)
	})
}

func (r *SQLiteRepository) RecentRuns(ctx context.Context, limit int) ([]models.RunLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, source, started_at, finished_at, duration_ms, changed_count, error
		FROM reconcile_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunLog{}
	for rows.Next() {
		var run models.RunLog
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.StartedAt, &finished, &run.DurationMs,
			&run.ChangedCount, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.FinishedAt = timePtr(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) ChangeLogs(ctx context.Context, runID string) ([]models.ChangeLog, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT run_id, asset_id, asset_name, ip_address, field, old_value, new_value
		FROM reconcile_change_logs
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list change logs for run %q: %w", runID, err)
	}
	defer rows.Close()

	logs := []models.ChangeLog{}
	for rows.Next() {
		var c models.ChangeLog
		if err := rows.Scan(&c.RunID, &c.AssetID, &c.AssetName, &c.IPAddress, &c.Field,
			&c.OldValue, &c.NewValue); err != nil {
			return nil, fmt.Errorf("scan change log: %w", err)
		}
		logs = append(logs, c)
	}
	return logs, rows.Err()
}

// IgnoreMAC adds mac to the discovery ignore-list and acknowledges any open
// discovery alert for it.
func (r *SQLiteRepository) IgnoreMAC(ctx context.Context, mac string) error {
	mac = unifi.NormalizeMAC(mac)
	if mac == "" {
		return errors.New("mac is required")
	}
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_ignored_macs (mac, created_at) VALUES (?, ?)
			ON CONFLICT (mac) DO NOTHING`, mac, time.Now().UTC()); err != nil {
			return fmt.Errorf("ignore mac %q: %w", mac, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE reconcile_discovery_alerts SET acknowledged = 1 WHERE mac = ?`, mac); err != nil {
			return fmt.Errorf("acknowledge discovery %q: %w", mac, err)
		}
		return nil
	})
}

// DiscoveryAlerts returns discovery alerts, unacknowledged ones only unless
// all is set.
func (r *SQLiteRepository) DiscoveryAlerts(ctx context.Context, all bool) ([]models.DiscoveryAlert, error) {
	query := `SELECT id, mac, name, hostname, ip_address, manufacturer, connection_type,
		upstream_name, upstream_mac, upstream_connection, connection_detail,
		is_online, detected_at, acknowledged, source
		FROM reconcile_discovery_alerts`
	if !all {
		query += ` WHERE acknowledged = 0`
	}
	query += ` ORDER BY detected_at DESC`

	rows, err := r.store.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list discovery alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.DiscoveryAlert{}
	for rows.Next() {
		var a models.DiscoveryAlert
		if err := rows.Scan(&a.ID, &a.MAC, &a.Name, &a.Hostname, &a.IPAddress, &a.Manufacturer,
			&a.ConnectionType, &a.UpstreamName, &a.UpstreamMAC, &a.UpstreamConnection,
			&a.ConnectionDetail, &a.IsOnline, &a.DetectedAt, &a.Acknowledged, &a.Source); err != nil {
			return nil, fmt.Errorf("scan discovery alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// WANStatus returns the last reported WAN interface states.
func (r *SQLiteRepository) WANStatus(ctx context.Context) ([]models.WANInterfaceStatus, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT gateway_name, gateway_mac, interface_name, is_up, ip_address, updated_at
		FROM reconcile_wan_status ORDER BY gateway_name, interface_name`)
	if err != nil {
		return nil, fmt.Errorf("list wan status: %w", err)
	}
	defer rows.Close()

	out := []models.WANInterfaceStatus{}
	for rows.Next() {
		var w models.WANInterfaceStatus
		var up sql.NullBool
		if err := rows.Scan(&w.GatewayName, &w.GatewayMAC, &w.InterfaceName, &up, &w.IPAddress, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wan status: %w", err)
		}
		if up.Valid {
			w.IsUp = &up.Bool
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func newID() string {
	return uuid.New().String()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

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

// migrations defines the reconcile_* schema.
var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create reconcile tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE reconcile_runs (
					id            TEXT PRIMARY KEY,
					source        TEXT NOT NULL,
					started_at    DATETIME NOT NULL,
					finished_at   DATETIME,
					duration_ms   INTEGER NOT NULL DEFAULT 0,
					changed_count INTEGER NOT NULL DEFAULT 0,
					error         TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_runs_started ON reconcile_runs(started_at)`,
				`CREATE TABLE reconcile_change_logs (
					id         INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id     TEXT NOT NULL REFERENCES reconcile_runs(id) ON DELETE CASCADE,
					asset_id   TEXT NOT NULL,
					asset_name TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					field      TEXT NOT NULL,
					old_value  TEXT NOT NULL DEFAULT '',
					new_value  TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_change_logs_run ON reconcile_change_logs(run_id)`,
				`CREATE TABLE reconcile_status_events (
					id         TEXT PRIMARY KEY,
					asset_id   TEXT NOT NULL REFERENCES inventory_assets(id) ON DELETE CASCADE,
					is_online  INTEGER NOT NULL,
					changed_at DATETIME NOT NULL,
					source     TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_status_events_asset ON reconcile_status_events(asset_id, changed_at)`,
				`CREATE INDEX idx_reconcile_status_events_changed ON reconcile_status_events(changed_at)`,
				`CREATE TABLE reconcile_daily_rollups (
					asset_id         TEXT NOT NULL REFERENCES inventory_assets(id) ON DELETE CASCADE,
					date             TEXT NOT NULL,
					online_seconds   INTEGER NOT NULL DEFAULT 0,
					observed_seconds INTEGER NOT NULL DEFAULT 0,
					updated_at       DATETIME NOT NULL,
					PRIMARY KEY (asset_id, date)
				)`,
				`CREATE INDEX idx_reconcile_daily_rollups_date ON reconcile_daily_rollups(date)`,
				`CREATE TABLE reconcile_offline_alerts (
					id              TEXT PRIMARY KEY,
					asset_id        TEXT NOT NULL REFERENCES inventory_assets(id) ON DELETE CASCADE,
					name_at_time    TEXT NOT NULL DEFAULT '',
					ip_at_time      TEXT NOT NULL DEFAULT '',
					went_offline_at DATETIME NOT NULL,
					came_online_at  DATETIME,
					acknowledged    INTEGER NOT NULL DEFAULT 0,
					acknowledged_at DATETIME,
					source          TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_offline_alerts_open ON reconcile_offline_alerts(asset_id, came_online_at)`,
				`CREATE TABLE reconcile_firmware_alerts (
					id              TEXT PRIMARY KEY,
					asset_id        TEXT NOT NULL REFERENCES inventory_assets(id) ON DELETE CASCADE,
					name_at_time    TEXT NOT NULL DEFAULT '',
					mac_at_time     TEXT NOT NULL DEFAULT '',
					model_at_time   TEXT NOT NULL DEFAULT '',
					current_version TEXT NOT NULL DEFAULT '',
					target_version  TEXT NOT NULL,
					detected_at     DATETIME NOT NULL,
					resolved_at     DATETIME,
					acknowledged    INTEGER NOT NULL DEFAULT 0,
					acknowledged_at DATETIME,
					source          TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_firmware_alerts_open ON reconcile_firmware_alerts(asset_id, resolved_at)`,
				`CREATE TABLE reconcile_discovery_alerts (
					id                  TEXT PRIMARY KEY,
					mac                 TEXT NOT NULL,
					name                TEXT NOT NULL DEFAULT '',
					hostname            TEXT NOT NULL DEFAULT '',
					ip_address          TEXT NOT NULL DEFAULT '',
					manufacturer        TEXT NOT NULL DEFAULT '',
					connection_type     TEXT NOT NULL DEFAULT '',
					upstream_name       TEXT NOT NULL DEFAULT '',
					upstream_mac        TEXT NOT NULL DEFAULT '',
					upstream_connection TEXT NOT NULL DEFAULT '',
					connection_detail   TEXT NOT NULL DEFAULT '',
					is_online           INTEGER NOT NULL DEFAULT 0,
					detected_at         DATETIME NOT NULL,
					acknowledged        INTEGER NOT NULL DEFAULT 0,
					source              TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_reconcile_discovery_alerts_mac ON reconcile_discovery_alerts(mac)`,
				`CREATE TABLE reconcile_ignored_macs (
					mac        TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE reconcile_ip_history (
					id         TEXT PRIMARY KEY,
					asset_id   TEXT NOT NULL REFERENCES inventory_assets(id) ON DELETE CASCADE,
					ip_address TEXT NOT NULL,
					port       INTEGER,
					source     TEXT NOT NULL DEFAULT '',
					first_seen DATETIME NOT NULL,
					last_seen  DATETIME
				)`,
				`CREATE INDEX idx_reconcile_ip_history_asset ON reconcile_ip_history(asset_id, last_seen)`,
				`CREATE TABLE reconcile_wan_status (
					gateway_name   TEXT NOT NULL DEFAULT '',
					gateway_mac    TEXT NOT NULL DEFAULT '',
					interface_name TEXT NOT NULL,
					is_up          INTEGER,
					ip_address     TEXT NOT NULL DEFAULT '',
					updated_at     DATETIME NOT NULL
				)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
