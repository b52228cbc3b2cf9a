package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"guildhall.gg/internal/guild"
)

func TestJournal_AppendReadBack(t *testing.T) {
	dir := t.TempDir()
	j := OpenJournal(dir, "audit")

	entries := []guild.AuditEntry{
		{TS: "2026-09-01T10:00:00Z", Action: guild.EventCreate, Guild: "Alpha"},
		{TS: "2026-09-01T10:00:01Z", Action: guild.EventClaim, Guild: "Alpha", Cell: "world,1,2"},
	}
	for _, e := range entries {
		if err := j.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("journal files: %v %v", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	var got []guild.AuditEntry
	for sc.Scan() {
		var e guild.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("read %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], entries[i])
		}
	}
}

func TestTerritoryLogger_WritesUnderAuditDir(t *testing.T) {
	dir := t.TempDir()
	l := NewTerritoryLogger(dir)
	if err := l.WriteAudit(guild.AuditEntry{TS: "2026-09-01T10:00:00Z", Action: guild.EventDelete, Guild: "Beta"}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if len(files) != 1 {
		t.Fatalf("audit files: %v", files)
	}
}
