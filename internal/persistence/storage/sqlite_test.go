package storage

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestSQL(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(SQLOptions{Path: filepath.Join(t.TempDir(), "guilds.db")}, testLogger())
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_SaveLoadRoundTrip(t *testing.T) {
	s := openTestSQL(t)
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

func TestSQLStore_SaveReplacesChildRows(t *testing.T) {
	s := openTestSQL(t)
	rec := sampleRecord("Alpha")
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.Claims = []string{"world,1,2"}
	rec.Invites = nil
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, ok, err := s.Load("Alpha")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(got.Claims) != 1 || got.Claims[0] != "world,1,2" {
		t.Fatalf("claims not replaced: %v", got.Claims)
	}
	if len(got.Invites) != 0 {
		t.Fatalf("invites not cleared: %v", got.Invites)
	}
}

func TestSQLStore_DeleteRemovesAllRows(t *testing.T) {
	s := openTestSQL(t)
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
	for _, table := range childTables {
		var n int
		row := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table + ` WHERE guild_name='Alpha'`)
		if err := row.Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s still holds %d rows", table, n)
		}
	}
}

func TestSQLStore_BinRoundTrip(t *testing.T) {
	s := openTestSQL(t)
	payload := []byte{0x00, 0x01, 0xFE, 0xFF}
	if err := s.SaveBin("Alpha", payload); err != nil {
		t.Fatalf("SaveBin: %v", err)
	}
	if err := s.SaveBin("Alpha", payload[:2]); err != nil {
		t.Fatalf("SaveBin replace: %v", err)
	}
	got, ok, err := s.LoadBin("Alpha")
	if err != nil || !ok {
		t.Fatalf("LoadBin: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, payload[:2]) {
		t.Fatalf("bin mismatch: %v", got)
	}
}

func TestSQLStore_MigrationIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guilds.db")
	s1, err := OpenSQL(SQLOptions{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	if err := s1.Save(sampleRecord("Alpha")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening applies no further migration steps and keeps data intact.
	s2, err := OpenSQL(SQLOptions{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	var v string
	row := s2.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`)
	if err := row.Scan(&v); err != nil {
		t.Fatalf("schema_version: %v", err)
	}
	if v != "3" {
		t.Fatalf("schema_version=%s, want 3", v)
	}
	if _, ok, err := s2.Load("Alpha"); err != nil || !ok {
		t.Fatalf("Load after reopen: ok=%v err=%v", ok, err)
	}
}

func TestSQLStore_LoadAllSkipsCorruptRow(t *testing.T) {
	s := openTestSQL(t)
	if err := s.Save(sampleRecord("Alpha")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(sampleRecord("Beta")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// SQLite column affinity lets junk through; the scan fails at load time
	// and that row alone is skipped.
	if _, err := s.db.Exec(
		`INSERT INTO guilds(name,owner,level,exp,bonus_claims,pvp_enabled) VALUES('Broken','o','junk',0,0,0)`,
	); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	recs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadAll: %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Name == "Broken" {
			t.Fatal("corrupt row should have been skipped")
		}
	}
}

func sampleAllianceRecord(name string) AllianceRecordV1 {
	return AllianceRecordV1{
		Name:        name,
		Founder:     "Alpha",
		Description: "mutual defense",
		Members:     []string{"Alpha", "Beta"},
		Invites:     []string{"Gamma"},
		ExpBonus:    1.5,
		ExtraClaims: 2,
	}
}

func TestSQLStore_AllianceRoundTrip(t *testing.T) {
	s := openTestSQL(t)
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
	if _, ok, err := s.LoadAlliance("Missing"); err != nil || ok {
		t.Fatalf("LoadAlliance missing: ok=%v err=%v", ok, err)
	}

	// Child rows are replaced wholesale on re-save.
	want.Members = []string{"Alpha"}
	want.Invites = nil
	if err := s.SaveAlliance(want); err != nil {
		t.Fatalf("SaveAlliance again: %v", err)
	}
	got, _, err = s.LoadAlliance("Axis")
	if err != nil {
		t.Fatalf("LoadAlliance: %v", err)
	}
	if len(got.Members) != 1 || len(got.Invites) != 0 {
		t.Fatalf("child rows not replaced: %+v", got)
	}
}

func TestSQLStore_DeleteAllianceRemovesAllRows(t *testing.T) {
	s := openTestSQL(t)
	if err := s.SaveAlliance(sampleAllianceRecord("Axis")); err != nil {
		t.Fatalf("SaveAlliance: %v", err)
	}
	if err := s.DeleteAlliance("Axis"); err != nil {
		t.Fatalf("DeleteAlliance: %v", err)
	}
	if _, ok, err := s.LoadAlliance("Axis"); err != nil || ok {
		t.Fatalf("LoadAlliance after delete: ok=%v err=%v", ok, err)
	}
	for _, table := range allianceChildTables {
		var n int
		row := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table + ` WHERE alliance_name='Axis'`)
		if err := row.Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s still holds %d rows", table, n)
		}
	}
}

func TestBothBackends_IdenticalAllianceSemantics(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqlStore := openTestSQL(t)

	rec := sampleAllianceRecord("Axis")
	for _, b := range []Backend{fileStore, sqlStore} {
		if err := b.SaveAlliance(rec); err != nil {
			t.Fatalf("SaveAlliance: %v", err)
		}
	}
	fromFile, ok, err := fileStore.LoadAlliance("Axis")
	if err != nil || !ok {
		t.Fatalf("file LoadAlliance: ok=%v err=%v", ok, err)
	}
	fromSQL, ok, err := sqlStore.LoadAlliance("Axis")
	if err != nil || !ok {
		t.Fatalf("sql LoadAlliance: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(fromFile, fromSQL) {
		t.Fatalf("backends disagree:\nfile %+v\n sql %+v", fromFile, fromSQL)
	}
}

func TestBothBackends_IdenticalSemantics(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqlStore := openTestSQL(t)

	rec := sampleRecord("Alpha")
	for _, b := range []Backend{fileStore, sqlStore} {
		if err := b.Save(rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	fromFile, ok, err := fileStore.Load("Alpha")
	if err != nil || !ok {
		t.Fatalf("file Load: ok=%v err=%v", ok, err)
	}
	fromSQL, ok, err := sqlStore.Load("Alpha")
	if err != nil || !ok {
		t.Fatalf("sql Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(fromFile, fromSQL) {
		t.Fatalf("backends disagree:\nfile %+v\n sql %+v", fromFile, fromSQL)
	}
}
