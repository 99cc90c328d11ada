// Package services holds the NetReach inventory: the assets and subnets that
// reconciliation and host mapping write, and the persisted application
// settings.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown asset id, subnet id or setting key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports a duplicate asset id or subnet CIDR.
	ErrAlreadyExists = errors.New("already exists")
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// assetSortColumns maps the sort keys accepted by the asset listing to
// inventory_assets columns.
var assetSortColumns = map[string]string{
	"name":         "name",
	"ip_address":   "ip_address",
	"mac_address":  "mac_address",
	"category":     "category",
	"last_seen_at": "last_seen_at",
	"created_at":   "created_at",
}

// ListOptions pages an asset listing. SortBy is one of the asset sort keys;
// an unknown key sorts by name. SortOrder "desc" reverses the order.
type ListOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// ListResult is one page of a listing plus the number of matching rows.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (o ListOptions) normalized() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultPageSize
	case o.Limit > maxPageSize:
		o.Limit = maxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.SortOrder != "desc" {
		o.SortOrder = "asc"
	}
	return o
}

// orderBy builds the ORDER BY clause from the allow-listed sort columns.
// rowid breaks ties so pages stay stable.
func (o ListOptions) orderBy() string {
	col, ok := assetSortColumns[o.SortBy]
	if !ok {
		col = "name"
	}
	dir := "ASC"
	if o.SortOrder == "desc" {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, rowid ASC", col, dir)
}
