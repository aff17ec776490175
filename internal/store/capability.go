package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// capabilityCacheRedisTTL mirrors model.CapabilityRecord.Stale's 30-day
// freshness window so the Redis warm cache and Postgres never disagree for
// long about whether a record needs refreshing.
const capabilityCacheRedisTTL = 30 * 24 * time.Hour

// CapabilityCache is the write-through in-memory cache backing
// pkg/orchestrator.CapabilityStore. Its three methods (Lookup/Upsert/
// NeedsRefresh) carry no context or error return — orchestrator's phase 1
// calls them synchronously, in a hot per-device loop, so the cache must
// answer from memory; Postgres and Redis persistence happen asynchronously
// through a background writer goroutine instead of on the calling
// goroutine's critical path.
type CapabilityCache struct {
	mu      sync.RWMutex
	byModel map[string]model.CapabilityRecord

	db    *sqlx.DB
	redis *redis.Client
	log   *zap.Logger

	writes chan model.CapabilityRecord
	done   chan struct{}
}

// NewCapabilityCache builds a cache bound to db (required) and an optional
// redis client (nil disables the warm-cache layer, matching config.RedisURL
// being unset in a deployment without Redis).
func NewCapabilityCache(db *sqlx.DB, redisClient *redis.Client, log *zap.Logger) *CapabilityCache {
	c := &CapabilityCache{
		byModel: make(map[string]model.CapabilityRecord),
		db:      db,
		redis:   redisClient,
		log:     log,
		writes:  make(chan model.CapabilityRecord, 64),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Load populates the in-memory map from Postgres, called once at startup.
func (c *CapabilityCache) Load(ctx context.Context) error {
	var rows []capabilityRow
	err := c.db.SelectContext(ctx, &rows, `SELECT device_model, manufacturer, description,
		capabilities, raw_exposes, source, last_updated FROM device_capabilities`)
	if err != nil {
		return fmt.Errorf("store: load device capabilities: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		record, err := row.toModel()
		if err != nil {
			c.log.Warn("skipping unreadable capability row", zap.String("device_model", row.DeviceModel), zap.Error(err))
			continue
		}
		c.byModel[record.DeviceModel] = record
	}
	c.log.Info("loaded device capabilities", zap.Int("count", len(c.byModel)))
	return nil
}

// Close stops the background writer goroutine. Pending writes already
// queued are flushed before it returns.
func (c *CapabilityCache) Close() {
	close(c.writes)
	<-c.done
}

// Count reports how many device models currently have a cached capability
// record, surfaced by internal/httpapi's health endpoint.
func (c *CapabilityCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byModel)
}

// Lookup returns the cached record for deviceModel, if any.
func (c *CapabilityCache) Lookup(deviceModel string) (model.CapabilityRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.byModel[deviceModel]
	return record, ok
}

// Upsert updates the in-memory entry immediately and enqueues the durable
// write; a full writes channel (the background writer falling behind)
// drops the durable write but never blocks the caller, since phase 1 must
// not stall on persistence.
func (c *CapabilityCache) Upsert(record model.CapabilityRecord) {
	c.mu.Lock()
	c.byModel[record.DeviceModel] = record
	c.mu.Unlock()

	select {
	case c.writes <- record:
	default:
		c.log.Warn("capability write queue full, dropping durable write", zap.String("device_model", record.DeviceModel))
	}
}

// NeedsRefresh returns every device whose model has no cached record, or
// whose cached record is older than the freshness window.
func (c *CapabilityCache) NeedsRefresh(devices []model.DeviceRecord, now time.Time) []model.DeviceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var stale []model.DeviceRecord
	for _, d := range devices {
		record, ok := c.byModel[d.Model]
		if !ok || record.Stale(now) {
			stale = append(stale, d)
		}
	}
	return stale
}

func (c *CapabilityCache) writeLoop() {
	defer close(c.done)
	ctx := context.Background()
	for record := range c.writes {
		if err := c.persist(ctx, record); err != nil {
			c.log.Warn("capability durable write failed", zap.String("device_model", record.DeviceModel), zap.Error(err))
		}
	}
}

func (c *CapabilityCache) persist(ctx context.Context, record model.CapabilityRecord) error {
	capsJSON, err := json.Marshal(record.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	var rawJSON []byte
	if record.RawExposes != nil {
		rawJSON, err = json.Marshal(record.RawExposes)
		if err != nil {
			return fmt.Errorf("marshal raw_exposes: %w", err)
		}
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO device_capabilities (device_model, manufacturer, description, capabilities, raw_exposes, source, last_updated, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (device_model) DO UPDATE SET
			manufacturer = EXCLUDED.manufacturer,
			description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities,
			raw_exposes = EXCLUDED.raw_exposes,
			source = EXCLUDED.source,
			last_updated = EXCLUDED.last_updated,
			updated_at = now()`,
		record.DeviceModel, record.Manufacturer, record.Description, capsJSON, nullableJSON(rawJSON), record.Source, record.LastUpdated)
	if err != nil {
		return fmt.Errorf("persist to postgres: %w", err)
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, capabilityRedisKey(record.DeviceModel), capsJSON, capabilityCacheRedisTTL).Err(); err != nil {
			c.log.Warn("capability redis warm-cache write failed", zap.String("device_model", record.DeviceModel), zap.Error(err))
		}
	}
	return nil
}

func capabilityRedisKey(deviceModel string) string {
	return "capabilities:" + deviceModel
}

type capabilityRow struct {
	DeviceModel  string    `db:"device_model"`
	Manufacturer string    `db:"manufacturer"`
	Description  string    `db:"description"`
	Capabilities []byte    `db:"capabilities"`
	RawExposes   []byte    `db:"raw_exposes"`
	Source       string    `db:"source"`
	LastUpdated  time.Time `db:"last_updated"`
}

func (row capabilityRow) toModel() (model.CapabilityRecord, error) {
	record := model.CapabilityRecord{
		DeviceModel:  row.DeviceModel,
		Manufacturer: row.Manufacturer,
		Description:  row.Description,
		Source:       model.CapabilitySource(row.Source),
		LastUpdated:  row.LastUpdated,
	}
	if err := json.Unmarshal(row.Capabilities, &record.Capabilities); err != nil {
		return model.CapabilityRecord{}, fmt.Errorf("decode capabilities: %w", err)
	}
	if len(row.RawExposes) > 0 {
		if err := json.Unmarshal(row.RawExposes, &record.RawExposes); err != nil {
			return model.CapabilityRecord{}, fmt.Errorf("decode raw_exposes: %w", err)
		}
	}
	return record, nil
}
