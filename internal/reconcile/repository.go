package reconcile

import (
	"context"
	"time"

	"github.com/HerbHall/netreach/pkg/models"
)

// Snapshot is the state a pass reads before computing its changes.
// Alert and history maps hold pointers the pass mutates in place.
type Snapshot struct {
	// Assets with a MAC or a custom monitor mode, in insertion order.
	Assets  []models.Asset
	Subnets []models.Subnet

	// OpenOffline holds the newest open offline alert per asset.
	OpenOffline map[string]*models.OfflineAlert
	// OpenFirmware holds every unresolved firmware alert per asset.
	OpenFirmware map[string][]*models.FirmwareAlert
	// OpenIPHistory holds the open address interval per asset.
	OpenIPHistory map[string]*models.IPHistoryInterval
	// HasIPHistory marks assets with any recorded interval, open or closed.
	HasIPHistory map[string]bool

	// IgnoredMACs and OpenDiscoveryMACs are keyed by normalized MAC.
	IgnoredMACs       map[string]bool
	OpenDiscoveryMACs map[string]bool
}

// NewSnapshot returns a snapshot with every map allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		OpenOffline:       make(map[string]*models.OfflineAlert),
		OpenFirmware:      make(map[string][]*models.FirmwareAlert),
		OpenIPHistory:     make(map[string]*models.IPHistoryInterval),
		HasIPHistory:      make(map[string]bool),
		IgnoredMACs:       make(map[string]bool),
		OpenDiscoveryMACs: make(map[string]bool),
	}
}

// Prune holds retention cutoffs applied at the end of a full pass.
type Prune struct {
	EventsBefore  time.Time
	RollupsBefore string // local date, YYYY-MM-DD
	RunsBefore    time.Time
}

// Changeset is everything one pass writes. Apply persists it atomically.
type Changeset struct {
	Run models.RunLog

	Assets  []*models.Asset
	Subnets []*models.Subnet
	// WAN replaces every stored WAN status when non-empty.
	WAN []models.WANInterfaceStatus

	// Alert and interval rows are upserted by ID.
	OfflineAlerts   []*models.OfflineAlert
	FirmwareAlerts  []*models.FirmwareAlert
	IPHistory       []*models.IPHistoryInterval
	DiscoveryAlerts []models.DiscoveryAlert

	StatusEvents []models.StatusEvent
	ChangeLogs   []models.ChangeLog
	// Rollups are increments merged into existing rows.
	Rollups []models.DailyRollup

	Prune *Prune
}

// Repository is the persistence contract of the reconciliation engine.
type Repository interface {
	// LoadSnapshot reads the assets and open lifecycle rows for one pass.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// Apply writes a changeset in one transaction.
	Apply(ctx context.Context, cs *Changeset) error

	// RecordRun stores a run log on its own, used for failed passes.
	RecordRun(ctx context.Context, run models.RunLog) error

	// RecentRuns returns the newest run logs first.
	RecentRuns(ctx context.Context, limit int) ([]models.RunLog, error)

	// ChangeLogs returns the field changes recorded by one run.
	ChangeLogs(ctx context.Context, runID string) ([]models.ChangeLog, error)
}
