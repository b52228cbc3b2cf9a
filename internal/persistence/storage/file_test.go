package storage

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func sampleRecord(name string) RecordV1 {
	members := []string{
		"1b671a64-40d5-491e-99b0-da01ff1f3341",
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
	}
	sort.Strings(members)
	return RecordV1{
		Name:        name,
		Owner:       members[0],
		Level:       3,
		Exp:         4200,
		BonusClaims: 2,
		Members:     members,
		Invites:     []string{"7d444840-9dc0-11d1-b245-5ffdce74fad2"},
		Claims:      []string{"world,-4,9", "world,1,2", "world_nether,0,0"},
		Homes: map[string]HomeV1{
			"base": {World: "world", X: 10.5, Y: 64, Z: -3.25, Yaw: 90, Pitch: -5},
		},
		PvPEnabled: true,
		Structures: []string{"tower_1"},
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	want := sampleRecord("Alpha")
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Load("Alpha")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	if _, ok, err := s.Load("Missing"); err != nil || ok {
		t.Fatalf("Load missing: ok=%v err=%v", ok, err)
	}
}

func TestFileStore_RejectsInvalidNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, name := range []string{"", "has space", "slash/y", "dash-y", "..", strings.Repeat("x", 33)} {
		if err := s.Save(RecordV1{Name: name, Owner: "o"}); err == nil {
			t.Fatalf("Save(%q): expected error", name)
		}
		if _, _, err := s.Load(name); err == nil {
			t.Fatalf("Load(%q): expected error", name)
		}
	}
}

func TestFileStore_SaveRotatesBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	rec := sampleRecord("Alpha")
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.Level = 4
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	backups, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("backup count: %d, want 1", len(backups))
	}
	if !strings.HasPrefix(backups[0].Name(), "Alpha-") || !strings.HasSuffix(backups[0].Name(), ".yml") {
		t.Fatalf("backup name: %s", backups[0].Name())
	}

	got, ok, err := s.Load("Alpha")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Level != 4 {
		t.Fatalf("live document level: %d, want 4", got.Level)
	}
}

func TestFileStore_DeleteKeepsBackupRemovesBin(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Save(sampleRecord("Alpha")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.SaveBin("Alpha", []byte("payload")); err != nil {
		t.Fatalf("SaveBin: %v", err)
	}
	if err := s.Delete("Alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok, err := s.Load("Alpha"); err != nil || ok {
		t.Fatalf("Load after delete: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.LoadBin("Alpha"); err != nil || ok {
		t.Fatalf("LoadBin after delete: ok=%v err=%v", ok, err)
	}
	backups, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("deleted state should stay recoverable: backups=%d", len(backups))
	}
	// Deleting an absent guild is a no-op.
	if err := s.Delete("Alpha"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestFileStore_LoadAllSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta", "Eta", "Theta", "Iota", "Kappa"}
	for _, n := range names {
		if err := s.Save(sampleRecord(n)); err != nil {
			t.Fatalf("Save %s: %v", n, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "Broken.yml"), []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatalf("write corrupt doc: %v", err)
	}
	// Document whose content names a different guild is also skipped.
	if err := os.WriteFile(filepath.Join(dir, "Liar.yml"), []byte("name: SomeoneElse\n"), 0o644); err != nil {
		t.Fatalf("write mismatched doc: %v", err)
	}

	recs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(recs) != len(names) {
		t.Fatalf("LoadAll: %d records, want %d", len(recs), len(names))
	}
}

func TestFileStore_AllianceRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	want := sampleAllianceRecord("Axis")
	if err := s.SaveAlliance(want); err != nil {
		t.Fatalf("SaveAlliance: %v", err)
	}
	got, ok, err := s.LoadAlliance("Axis")
	if err != nil || !ok {
		t.Fatalf("LoadAlliance: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if err := s.SaveAlliance(AllianceRecordV1{Name: "dash-y"}); err == nil {
		t.Fatal("invalid alliance name should be rejected")
	}

	if err := s.DeleteAlliance("Axis"); err != nil {
		t.Fatalf("DeleteAlliance: %v", err)
	}
	if _, ok, _ := s.LoadAlliance("Axis"); ok {
		t.Fatal("deleted alliance should not load")
	}
	// Deleting again is a no-op.
	if err := s.DeleteAlliance("Axis"); err != nil {
		t.Fatalf("repeat DeleteAlliance: %v", err)
	}
}

func TestFileStore_LoadAllAlliancesSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, n := range []string{"Axis", "Pact"} {
		if err := s.SaveAlliance(sampleAllianceRecord(n)); err != nil {
			t.Fatalf("SaveAlliance %s: %v", n, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "alliances", "Broken.yml"), []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatalf("write corrupt doc: %v", err)
	}

	recs, err := s.LoadAllAlliances()
	if err != nil {
		t.Fatalf("LoadAllAlliances: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadAllAlliances: %d records, want 2", len(recs))
	}
}

func TestFileStore_BinRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	payload := []byte{0x00, 0x01, 0xFE, 0xFF}
	if err := s.SaveBin("Alpha", payload); err != nil {
		t.Fatalf("SaveBin: %v", err)
	}
	got, ok, err := s.LoadBin("Alpha")
	if err != nil || !ok {
		t.Fatalf("LoadBin: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, payload) {
		t.Fatalf("bin mismatch: %v", got)
	}
	if _, ok, _ := s.LoadBin("Missing"); ok {
		t.Fatal("missing bin should report !ok")
	}
}
