package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// MigrateInventory creates the asset and subnet tables. It is safe to call
// from every repository constructor that depends on them.
func MigrateInventory(ctx context.Context, store plugin.Store) error {
	if err := store.Migrate(ctx, "inventory", inventoryMigrations); err != nil {
		return fmt.Errorf("inventory migrations: %w", err)
	}
	return nil
}

var inventoryMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create inventory_assets and inventory_subnets tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE inventory_assets (
					id                       TEXT PRIMARY KEY,
					name                     TEXT NOT NULL DEFAULT '',
					hostname                 TEXT NOT NULL DEFAULT '',
					mac_address              TEXT NOT NULL DEFAULT '',
					ip_address               TEXT NOT NULL DEFAULT '',
					manufacturer             TEXT NOT NULL DEFAULT '',
					model                    TEXT NOT NULL DEFAULT '',
					category                 TEXT NOT NULL DEFAULT '',
					is_infrastructure        INTEGER NOT NULL DEFAULT 0,
					is_online                INTEGER NOT NULL DEFAULT 0,
					is_status_tracked        INTEGER NOT NULL DEFAULT 1,
					ignore_offline           INTEGER NOT NULL DEFAULT 0,
					monitor_mode             TEXT NOT NULL DEFAULT 'normal',
					monitor_port             INTEGER,
					monitor_use_https        INTEGER NOT NULL DEFAULT 0,
					monitor_http_path        TEXT NOT NULL DEFAULT '',
					host_asset_id            TEXT NOT NULL DEFAULT '',
					parent_asset_id          TEXT NOT NULL DEFAULT '',
					manual_upstream_asset_id TEXT NOT NULL DEFAULT '',
					is_topology_root         INTEGER NOT NULL DEFAULT 0,
					upstream_name            TEXT NOT NULL DEFAULT '',
					upstream_mac             TEXT NOT NULL DEFAULT '',
					upstream_connection      TEXT NOT NULL DEFAULT '',
					connection_type          TEXT NOT NULL DEFAULT '',
					connection_detail        TEXT NOT NULL DEFAULT '',
					is_proxmox_host          INTEGER NOT NULL DEFAULT 0,
					proxmox_profile          TEXT NOT NULL DEFAULT '',
					proxmox_node             TEXT NOT NULL DEFAULT '',
					last_seen_at             DATETIME,
					last_online_at           DATETIME,
					last_rollup_at           DATETIME,
					created_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_inventory_assets_mac ON inventory_assets(mac_address)`,
				`CREATE INDEX idx_inventory_assets_host ON inventory_assets(host_asset_id)`,
				`CREATE TABLE inventory_subnets (
					id          TEXT PRIMARY KEY,
					name        TEXT NOT NULL DEFAULT '',
					cidr        TEXT NOT NULL,
					dhcp_start  TEXT NOT NULL DEFAULT '',
					dhcp_end    TEXT NOT NULL DEFAULT '',
					vlan_id     INTEGER,
					dns1        TEXT NOT NULL DEFAULT '',
					dns2        TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE UNIQUE INDEX idx_inventory_subnets_cidr ON inventory_subnets(cidr COLLATE NOCASE)`,
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
