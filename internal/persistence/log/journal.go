// Package log writes the territory audit journal: one JSON document per
// committed guild mutation, appended to a zstd-compressed file that rolls
// over daily.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"guildhall.gg/internal/guild"
)

// Journal is an append-only JSONL stream. Files are named
// <prefix>-<yyyy-mm-dd>.jsonl.zst; a date change rolls the stream over to a
// fresh file. Every append is flushed through the encoder so a crash loses
// at most the entry being written.
//
// Guild mutations are low-volume compared to per-tick event streams, so a
// daily file with a small buffer is plenty.
type Journal struct {
	dir    string
	prefix string

	mu  sync.Mutex
	day string
	f   *os.File
	enc *zstd.Encoder
	buf *bufio.Writer
}

func OpenJournal(dir, prefix string) *Journal {
	return &Journal{dir: dir, prefix: prefix}
}

// Append marshals v and writes it as one journal line.
func (j *Journal) Append(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if day != j.day {
		if err := j.roll(day); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := j.buf.Write(b); err != nil {
		return err
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.enc.Flush()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.release()
}

// roll closes the current file, if any, and opens the one for day.
func (j *Journal) roll(day string) error {
	if err := j.release(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl.zst", j.prefix, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.buf = bufio.NewWriterSize(enc, 32*1024)
	j.day = day
	return nil
}

func (j *Journal) release() error {
	if j.buf != nil {
		_ = j.buf.Flush()
		j.buf = nil
	}
	var err error
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	return err
}

// TerritoryLogger is the audit sink wired into the guild manager.
type TerritoryLogger struct{ j *Journal }

func NewTerritoryLogger(dataDir string) *TerritoryLogger {
	return &TerritoryLogger{j: OpenJournal(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *TerritoryLogger) WriteAudit(v guild.AuditEntry) error { return l.j.Append(v) }
func (l *TerritoryLogger) Close() error                        { return l.j.Close() }
