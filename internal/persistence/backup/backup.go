// Package backup writes periodic compressed snapshots of guild records and
// prunes old ones by a keep-minimum plus age policy.
package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"guildhall.gg/internal/persistence/storage"
)

// stamp has nanosecond precision so two snapshots of the same guild within
// one second never collide. Guild names cannot contain '-', so the first
// dash in a snapshot filename always ends the name.
const stamp = "20060102-150405.000000000"

// queueCap bounds lifecycle snapshot requests waiting for the worker. A full
// queue drops the request rather than stalling the game-logic thread.
const queueCap = 64

type Manager struct {
	dir     string
	keepMin int
	maxAge  time.Duration
	log     *log.Logger
	queue   chan storage.RecordV1
}

// New creates a backup manager writing under dir. keepMin snapshots per
// guild are always retained regardless of age; older ones past maxAge are
// swept. maxAge <= 0 disables age-based pruning.
func New(dir string, keepMin int, maxAge time.Duration, logger *log.Logger) *Manager {
	if keepMin < 1 {
		keepMin = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		dir:     dir,
		keepMin: keepMin,
		maxAge:  maxAge,
		log:     logger,
		queue:   make(chan storage.RecordV1, queueCap),
	}
}

// Enqueue hands a record to the snapshot worker without blocking the caller.
// Used for lifecycle snapshots (guild creation, pre-delete) triggered on the
// game-logic thread, which must never wait on file I/O.
func (m *Manager) Enqueue(rec storage.RecordV1) {
	select {
	case m.queue <- rec:
	default:
		m.log.Printf("backup: queue full, dropping snapshot of %s", rec.Name)
	}
}

// RunWorker drains queued snapshot requests until ctx is cancelled.
func (m *Manager) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-m.queue:
			if _, err := m.Snapshot(rec); err != nil {
				m.log.Printf("backup: snapshot guild %s: %v", rec.Name, err)
			}
			m.drain()
		}
	}
}

// drain writes every currently queued snapshot and returns how many were
// attempted.
func (m *Manager) drain() int {
	n := 0
	for {
		select {
		case rec := <-m.queue:
			n++
			if _, err := m.Snapshot(rec); err != nil {
				m.log.Printf("backup: snapshot guild %s: %v", rec.Name, err)
			}
		default:
			return n
		}
	}
}

// Snapshot writes one compressed snapshot of the record and returns its path.
func (m *Manager) Snapshot(rec storage.RecordV1) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s-%s.yml.zst", rec.Name, time.Now().UTC().Format(stamp)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", err
	}
	defer enc.Close()

	b, err := yaml.Marshal(&rec)
	if err != nil {
		return "", err
	}
	if _, err := enc.Write(b); err != nil {
		return "", err
	}
	return path, enc.Close()
}

// SnapshotAll snapshots every record, continuing past per-guild failures.
// Returns the number of snapshots written.
func (m *Manager) SnapshotAll(recs []storage.RecordV1) int {
	written := 0
	for _, rec := range recs {
		if _, err := m.Snapshot(rec); err != nil {
			m.log.Printf("backup: snapshot guild %s: %v", rec.Name, err)
			continue
		}
		written++
	}
	return written
}

// Restore reads a snapshot file back into a record.
func Restore(path string) (storage.RecordV1, error) {
	var rec storage.RecordV1
	f, err := os.Open(path)
	if err != nil {
		return rec, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return rec, err
	}
	defer dec.Close()

	b, err := io.ReadAll(dec)
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	if rec.Name == "" {
		return rec, fmt.Errorf("snapshot %s has no guild name", filepath.Base(path))
	}
	return rec, nil
}

// Sweep prunes old snapshots. The newest keepMin per guild survive
// unconditionally; anything older than maxAge beyond that floor is removed.
// Returns the number of files removed.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type snap struct {
		path string
		ts   time.Time
	}
	byGuild := map[string][]snap{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ts, ok := parseSnapshotName(e.Name())
		if !ok {
			continue
		}
		byGuild[name] = append(byGuild[name], snap{path: filepath.Join(m.dir, e.Name()), ts: ts})
	}

	removed := 0
	cutoff := time.Now().UTC().Add(-m.maxAge)
	for name, snaps := range byGuild {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].ts.After(snaps[j].ts) })
		for i, s := range snaps {
			if i < m.keepMin {
				continue
			}
			if m.maxAge <= 0 || s.ts.After(cutoff) {
				continue
			}
			if err := os.Remove(s.path); err != nil {
				m.log.Printf("backup: sweep guild %s: %v", name, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// List returns snapshot paths for one guild, newest first.
func (m *Manager) List(guildName string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snap struct {
		path string
		ts   time.Time
	}
	var snaps []snap
	for _, e := range entries {
		name, ts, ok := parseSnapshotName(e.Name())
		if !ok || name != guildName {
			continue
		}
		snaps = append(snaps, snap{path: filepath.Join(m.dir, e.Name()), ts: ts})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ts.After(snaps[j].ts) })
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.path
	}
	return out, nil
}

// Run snapshots all records from source and sweeps on a fixed interval
// until ctx is cancelled. source is expected to return immutable records,
// so snapshots never race live guild mutation.
func (m *Manager) Run(ctx context.Context, interval time.Duration, source func() []storage.RecordV1) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := m.SnapshotAll(source())
			removed, err := m.Sweep()
			if err != nil {
				m.log.Printf("backup: sweep: %v", err)
			}
			m.log.Printf("backup: wrote %d snapshots, swept %d", n, removed)
		}
	}
}

func parseSnapshotName(base string) (string, time.Time, bool) {
	if !strings.HasSuffix(base, ".yml.zst") {
		return "", time.Time{}, false
	}
	base = strings.TrimSuffix(base, ".yml.zst")
	i := strings.IndexByte(base, '-')
	if i <= 0 || i == len(base)-1 {
		return "", time.Time{}, false
	}
	name, tsStr := base[:i], base[i+1:]
	ts, err := time.Parse(stamp, tsStr)
	if err != nil {
		return "", time.Time{}, false
	}
	return name, ts, true
}
