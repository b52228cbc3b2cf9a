// Package cache keeps the write-behind layer between the live guild manager
// and the durable backend: reads are served from memory, mutations are
// queued as immutable record snapshots and flushed in batches.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"guildhall.gg/internal/guild"
	"guildhall.gg/internal/persistence/storage"
)

type renameOp struct {
	oldName string
	newName string
}

// Cache is safe for concurrent use by the game thread (Get, Put, the
// mark/queue methods) and the flusher goroutine (Flush, FlushAll). Dirty
// entries are records captured at mark time, so background serialization
// never races live mutation; N marks of the same guild before a flush
// coalesce into one save of the newest snapshot. Deletes and renames queue
// the same way, keeping every backend touch off the game thread.
type Cache struct {
	backend storage.Backend
	levels  *guild.Levels
	log     *log.Logger

	// OnSaveError, when set, receives every failed flush operation so the
	// failure reaches the audit stream as well as the server log. Assigned
	// once during wiring, before any goroutine runs.
	OnSaveError func(name string, err error)

	mu        sync.Mutex
	live      map[string]*guild.Guild
	dirty     map[string]storage.RecordV1
	dirtyBins map[string][]byte
	deletes   map[string]struct{}
	renames   []renameOp

	dirtyAlliances  map[string]storage.AllianceRecordV1
	allianceDeletes map[string]struct{}

	// flushMu serializes flush cycles: a cycle still running when the next
	// interval fires is never overlapped.
	flushMu sync.Mutex
}

func New(backend storage.Backend, levels *guild.Levels, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		backend:         backend,
		levels:          levels,
		log:             logger,
		live:            map[string]*guild.Guild{},
		dirty:           map[string]storage.RecordV1{},
		dirtyBins:       map[string][]byte{},
		deletes:         map[string]struct{}{},
		dirtyAlliances:  map[string]storage.AllianceRecordV1{},
		allianceDeletes: map[string]struct{}{},
	}
}

// Get returns the single live instance for a name, loading through to the
// backend on a miss. Two concurrent Gets never yield different instances.
// Misses hit the backend; after startup warm-up every live guild is cached,
// so the game thread only ever takes the memory path.
func (c *Cache) Get(name string) (*guild.Guild, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.live[name]; ok {
		return g, true, nil
	}
	if _, pendingDelete := c.deletes[name]; pendingDelete {
		return nil, false, nil
	}
	rec, ok, err := c.backend.Load(name)
	if err != nil || !ok {
		return nil, false, err
	}
	g, err := guild.FromRecord(c.levels, rec)
	if err != nil {
		return nil, false, err
	}
	c.live[name] = g
	return g, true, nil
}

// Put registers a live instance (guild creation, restore, bootstrap).
func (c *Cache) Put(g *guild.Guild) {
	c.mu.Lock()
	c.live[g.Name()] = g
	c.mu.Unlock()
}

// Remove drops the live instance without touching durable state.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	delete(c.live, name)
	c.mu.Unlock()
}

// MarkDirty snapshots the guild and queues it for the next flush cycle.
func (c *Cache) MarkDirty(g *guild.Guild) {
	rec := g.Record()
	c.mu.Lock()
	c.live[rec.Name] = g
	c.dirty[rec.Name] = rec
	c.mu.Unlock()
}

// MarkAllianceDirty snapshots an alliance and queues it for the next flush
// cycle. Alliances are fully resident after bootstrap, so there is no live
// map or load-through path for them.
func (c *Cache) MarkAllianceDirty(a *guild.Alliance) {
	rec := a.Record()
	c.mu.Lock()
	c.dirtyAlliances[rec.Name] = rec
	c.mu.Unlock()
}

// DeleteAlliancePersisted queues removal of an alliance's durable record and
// discards any queued save for it.
func (c *Cache) DeleteAlliancePersisted(name string) error {
	c.mu.Lock()
	delete(c.dirtyAlliances, name)
	c.allianceDeletes[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

// MarkBinDirty queues an opaque bin payload for the next flush cycle.
func (c *Cache) MarkBinDirty(name string, payload []byte) {
	c.mu.Lock()
	c.dirtyBins[name] = payload
	c.mu.Unlock()
}

// LoadBin reads a bin payload, preferring a payload still queued for flush.
func (c *Cache) LoadBin(name string) ([]byte, bool, error) {
	c.mu.Lock()
	if p, ok := c.dirtyBins[name]; ok {
		c.mu.Unlock()
		return p, true, nil
	}
	c.mu.Unlock()
	return c.backend.LoadBin(name)
}

// DeletePersisted drops the guild from the cache and queues removal of its
// durable record and bin. Queued saves for the name are discarded so a
// deleted guild cannot resurrect from a stale snapshot.
func (c *Cache) DeletePersisted(name string) error {
	c.mu.Lock()
	delete(c.live, name)
	delete(c.dirty, name)
	delete(c.dirtyBins, name)
	c.deletes[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

// RenamePersisted queues moving bin data from the old name and removal of
// the old record. The guild itself is re-queued under its new name by the
// caller via MarkDirty.
func (c *Cache) RenamePersisted(oldName, newName string) error {
	c.mu.Lock()
	delete(c.live, oldName)
	delete(c.dirty, oldName)
	if p, ok := c.dirtyBins[oldName]; ok {
		delete(c.dirtyBins, oldName)
		c.dirtyBins[newName] = p
	}
	c.renames = append(c.renames, renameOp{oldName: oldName, newName: newName})
	c.mu.Unlock()
	return nil
}

// Flush drains the queues: renames first, then deletes, then saves, so a
// name deleted and recreated within one cycle ends up saved. One entry's
// failure never blocks the others: it is logged and stays queued for the
// next cycle (unless a newer snapshot replaced it meanwhile). Returns the
// number of operations applied.
func (c *Cache) Flush() int {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	renames := c.renames
	deletes := c.deletes
	recs := c.dirty
	bins := c.dirtyBins
	allianceDeletes := c.allianceDeletes
	allianceRecs := c.dirtyAlliances
	c.renames = nil
	c.deletes = map[string]struct{}{}
	c.dirty = map[string]storage.RecordV1{}
	c.dirtyBins = map[string][]byte{}
	c.allianceDeletes = map[string]struct{}{}
	c.dirtyAlliances = map[string]storage.AllianceRecordV1{}
	c.mu.Unlock()

	applied := 0
	for _, r := range renames {
		if err := c.applyRename(r); err != nil {
			c.log.Printf("flush: rename %s -> %s: %v", r.oldName, r.newName, err)
			c.reportSaveError(r.newName, err)
			c.mu.Lock()
			c.renames = append(c.renames, r)
			c.mu.Unlock()
			continue
		}
		applied++
	}
	for name := range deletes {
		if err := c.backend.Delete(name); err != nil {
			c.log.Printf("flush: delete guild %s: %v", name, err)
			c.reportSaveError(name, err)
			c.mu.Lock()
			c.deletes[name] = struct{}{}
			c.mu.Unlock()
			continue
		}
		applied++
	}
	for name, rec := range recs {
		if err := c.backend.Save(rec); err != nil {
			c.log.Printf("flush: save guild %s: %v", name, err)
			c.reportSaveError(name, err)
			c.requeue(name, rec)
			continue
		}
		applied++
	}
	for name, payload := range bins {
		if err := c.backend.SaveBin(name, payload); err != nil {
			c.log.Printf("flush: save bin %s: %v", name, err)
			c.reportSaveError(name, err)
			c.requeueBin(name, payload)
			continue
		}
		applied++
	}
	for name := range allianceDeletes {
		if err := c.backend.DeleteAlliance(name); err != nil {
			c.log.Printf("flush: delete alliance %s: %v", name, err)
			c.reportSaveError(name, err)
			c.mu.Lock()
			c.allianceDeletes[name] = struct{}{}
			c.mu.Unlock()
			continue
		}
		applied++
	}
	for name, rec := range allianceRecs {
		if err := c.backend.SaveAlliance(rec); err != nil {
			c.log.Printf("flush: save alliance %s: %v", name, err)
			c.reportSaveError(name, err)
			c.mu.Lock()
			if _, ok := c.dirtyAlliances[name]; !ok {
				c.dirtyAlliances[name] = rec
			}
			c.mu.Unlock()
			continue
		}
		applied++
	}
	return applied
}

func (c *Cache) reportSaveError(name string, err error) {
	if c.OnSaveError != nil {
		c.OnSaveError(name, err)
	}
}

func (c *Cache) applyRename(r renameOp) error {
	payload, ok, err := c.backend.LoadBin(r.oldName)
	if err != nil {
		return err
	}
	if ok {
		if err := c.backend.SaveBin(r.newName, payload); err != nil {
			return err
		}
	}
	return c.backend.Delete(r.oldName)
}

func (c *Cache) requeue(name string, rec storage.RecordV1) {
	c.mu.Lock()
	if _, ok := c.dirty[name]; !ok {
		c.dirty[name] = rec
	}
	c.mu.Unlock()
}

func (c *Cache) requeueBin(name string, payload []byte) {
	c.mu.Lock()
	if _, ok := c.dirtyBins[name]; !ok {
		c.dirtyBins[name] = payload
	}
	c.mu.Unlock()
}

// FlushAll runs one synchronous flush cycle and reports how many entries
// remain queued (nonzero only when the backend is failing). Called at
// shutdown after the periodic loop has stopped; it is the last durability
// guarantee for mutations since the previous cycle.
func (c *Cache) FlushAll() int {
	c.Flush()
	c.mu.Lock()
	remaining := len(c.dirty) + len(c.dirtyBins) + len(c.deletes) + len(c.renames) +
		len(c.dirtyAlliances) + len(c.allianceDeletes)
	c.mu.Unlock()
	if remaining > 0 {
		c.log.Printf("flush: %d entries still queued after final flush", remaining)
	}
	return remaining
}

// Run flushes on a fixed interval until ctx is cancelled. Cycles execute on
// this goroutine only, so a slow cycle delays the next one instead of
// overlapping it.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Flush()
		}
	}
}

// Bootstrap loads every persisted guild for startup warm-up. Records that
// fail to rebuild into an aggregate are skipped and logged, matching the
// backend's handling of records that fail to parse at all.
func (c *Cache) Bootstrap() ([]*guild.Guild, error) {
	recs, err := c.backend.LoadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*guild.Guild, 0, len(recs))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		g, err := guild.FromRecord(c.levels, rec)
		if err != nil {
			c.log.Printf("bootstrap: skipping guild %s: %v", rec.Name, err)
			continue
		}
		c.live[rec.Name] = g
		out = append(out, g)
	}
	return out, nil
}

// BootstrapAlliances loads every persisted alliance for startup warm-up,
// with the same skip-and-log handling as guild records.
func (c *Cache) BootstrapAlliances() ([]*guild.Alliance, error) {
	recs, err := c.backend.LoadAllAlliances()
	if err != nil {
		return nil, err
	}
	out := make([]*guild.Alliance, 0, len(recs))
	for _, rec := range recs {
		a, err := guild.AllianceFromRecord(rec)
		if err != nil {
			c.log.Printf("bootstrap: skipping alliance %s: %v", rec.Name, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
