package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore is the relational backend: one parent table for guild identity
// and progression, child tables for members, invites, claimed cells, homes,
// structures and bins, all keyed by guild name. Cascading deletes are
// performed explicitly inside the transaction rather than relying on
// database-native cascade.
type SQLStore struct {
	db  *sql.DB
	log *log.Logger
}

type SQLOptions struct {
	Path        string
	PoolSize    int
	BusyTimeout time.Duration
}

func OpenSQL(opts SQLOptions, logger *log.Logger) (*SQLStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlstore: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, err
	}

	// Bounded pool: exhaustion manifests as a bounded wait on the flush
	// goroutine, never an unbounded block.
	pool := opts.PoolSize
	if pool <= 0 {
		pool = 4
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxLifetime(0)

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds()),
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &SQLStore{db: db, log: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrations is an append-only ladder; meta.schema_version records the last
// applied step.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS guilds (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			level INTEGER NOT NULL,
			exp INTEGER NOT NULL,
			bonus_claims INTEGER NOT NULL DEFAULT 0,
			pvp_enabled INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS guild_members (
			guild_name TEXT NOT NULL,
			member_id TEXT NOT NULL,
			PRIMARY KEY (guild_name, member_id)
		);`,
		`CREATE TABLE IF NOT EXISTS guild_invites (
			guild_name TEXT NOT NULL,
			player_id TEXT NOT NULL,
			PRIMARY KEY (guild_name, player_id)
		);`,
		`CREATE TABLE IF NOT EXISTS guild_chunks (
			guild_name TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			PRIMARY KEY (guild_name, world, x, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_guild_chunks_cell ON guild_chunks(world, x, z);`,
		`CREATE TABLE IF NOT EXISTS guild_homes (
			guild_name TEXT NOT NULL,
			home_name TEXT NOT NULL,
			world TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			yaw REAL NOT NULL,
			pitch REAL NOT NULL,
			PRIMARY KEY (guild_name, home_name)
		);`,
		`CREATE TABLE IF NOT EXISTS guild_bins (
			guild_name TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	},
	{
		`CREATE TABLE IF NOT EXISTS guild_structures (
			guild_name TEXT NOT NULL,
			structure_id TEXT NOT NULL,
			PRIMARY KEY (guild_name, structure_id)
		);`,
	},
	{
		`CREATE TABLE IF NOT EXISTS alliances (
			name TEXT PRIMARY KEY,
			founder TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			exp_bonus REAL NOT NULL DEFAULT 1.0,
			extra_claims INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS alliance_members (
			alliance_name TEXT NOT NULL,
			guild_name TEXT NOT NULL,
			PRIMARY KEY (alliance_name, guild_name)
		);`,
		`CREATE TABLE IF NOT EXISTS alliance_invites (
			alliance_name TEXT NOT NULL,
			guild_name TEXT NOT NULL,
			PRIMARY KEY (alliance_name, guild_name)
		);`,
	},
}

func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(migrations[0][0]); err != nil {
		return err
	}
	version := 0
	row := s.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`)
	var v string
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &version)
	} else if err != sql.ErrNoRows {
		return err
	}

	for step := version; step < len(migrations); step++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range migrations[step] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlstore: migration %d: %w", step+1, err)
			}
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`,
			fmt.Sprintf("%d", step+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// childTables lists every table holding per-guild rows besides guilds itself.
var childTables = []string{
	"guild_members", "guild_invites", "guild_chunks", "guild_homes", "guild_structures",
}

func (s *SQLStore) Save(rec RecordV1) error {
	if !ValidName(rec.Name) {
		return fmt.Errorf("sqlstore: invalid guild name %q", rec.Name)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	pvp := 0
	if rec.PvPEnabled {
		pvp = 1
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO guilds(name,owner,level,exp,bonus_claims,pvp_enabled) VALUES(?,?,?,?,?,?)`,
		rec.Name, rec.Owner, rec.Level, rec.Exp, rec.BonusClaims, pvp,
	); err != nil {
		return fmt.Errorf("sqlstore: save %s: %w", rec.Name, err)
	}

	// Replace child rows wholesale so the committed state always matches the
	// record exactly.
	for _, table := range childTables {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE guild_name=?`, rec.Name); err != nil {
			return fmt.Errorf("sqlstore: clear %s for %s: %w", table, rec.Name, err)
		}
	}
	for _, m := range rec.Members {
		if _, err := tx.Exec(`INSERT INTO guild_members(guild_name,member_id) VALUES(?,?)`, rec.Name, m); err != nil {
			return fmt.Errorf("sqlstore: save member: %w", err)
		}
	}
	for _, p := range rec.Invites {
		if _, err := tx.Exec(`INSERT INTO guild_invites(guild_name,player_id) VALUES(?,?)`, rec.Name, p); err != nil {
			return fmt.Errorf("sqlstore: save invite: %w", err)
		}
	}
	for _, c := range rec.Claims {
		world, x, z, err := splitClaim(c)
		if err != nil {
			return fmt.Errorf("sqlstore: save claim %q: %w", c, err)
		}
		if _, err := tx.Exec(`INSERT INTO guild_chunks(guild_name,world,x,z) VALUES(?,?,?,?)`, rec.Name, world, x, z); err != nil {
			return fmt.Errorf("sqlstore: save claim: %w", err)
		}
	}
	for homeName, h := range rec.Homes {
		if _, err := tx.Exec(
			`INSERT INTO guild_homes(guild_name,home_name,world,x,y,z,yaw,pitch) VALUES(?,?,?,?,?,?,?,?)`,
			rec.Name, homeName, h.World, h.X, h.Y, h.Z, h.Yaw, h.Pitch,
		); err != nil {
			return fmt.Errorf("sqlstore: save home: %w", err)
		}
	}
	for _, id := range rec.Structures {
		if _, err := tx.Exec(`INSERT INTO guild_structures(guild_name,structure_id) VALUES(?,?)`, rec.Name, id); err != nil {
			return fmt.Errorf("sqlstore: save structure: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) Load(name string) (RecordV1, bool, error) {
	var rec RecordV1
	row := s.db.QueryRow(`SELECT name,owner,level,exp,bonus_claims,pvp_enabled FROM guilds WHERE name=?`, name)
	var pvp int
	if err := row.Scan(&rec.Name, &rec.Owner, &rec.Level, &rec.Exp, &rec.BonusClaims, &pvp); err != nil {
		if err == sql.ErrNoRows {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("sqlstore: load %s: %w", name, err)
	}
	rec.PvPEnabled = pvp != 0

	collect := func(query string, dst *[]string) error {
		rows, err := s.db.Query(query, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			*dst = append(*dst, v)
		}
		return rows.Err()
	}
	if err := collect(`SELECT member_id FROM guild_members WHERE guild_name=? ORDER BY member_id`, &rec.Members); err != nil {
		return rec, false, fmt.Errorf("sqlstore: load members %s: %w", name, err)
	}
	if err := collect(`SELECT player_id FROM guild_invites WHERE guild_name=? ORDER BY player_id`, &rec.Invites); err != nil {
		return rec, false, fmt.Errorf("sqlstore: load invites %s: %w", name, err)
	}
	if err := collect(`SELECT structure_id FROM guild_structures WHERE guild_name=? ORDER BY structure_id`, &rec.Structures); err != nil {
		return rec, false, fmt.Errorf("sqlstore: load structures %s: %w", name, err)
	}

	rows, err := s.db.Query(`SELECT world,x,z FROM guild_chunks WHERE guild_name=? ORDER BY world,x,z`, name)
	if err != nil {
		return rec, false, fmt.Errorf("sqlstore: load claims %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var world string
		var x, z int32
		if err := rows.Scan(&world, &x, &z); err != nil {
			return rec, false, err
		}
		rec.Claims = append(rec.Claims, fmt.Sprintf("%s,%d,%d", world, x, z))
	}
	if err := rows.Err(); err != nil {
		return rec, false, err
	}

	hrows, err := s.db.Query(`SELECT home_name,world,x,y,z,yaw,pitch FROM guild_homes WHERE guild_name=?`, name)
	if err != nil {
		return rec, false, fmt.Errorf("sqlstore: load homes %s: %w", name, err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var hn string
		var h HomeV1
		if err := hrows.Scan(&hn, &h.World, &h.X, &h.Y, &h.Z, &h.Yaw, &h.Pitch); err != nil {
			return rec, false, err
		}
		if rec.Homes == nil {
			rec.Homes = map[string]HomeV1{}
		}
		rec.Homes[hn] = h
	}
	if err := hrows.Err(); err != nil {
		return rec, false, err
	}

	return rec, true, nil
}

func (s *SQLStore) LoadAll() ([]RecordV1, error) {
	rows, err := s.db.Query(`SELECT name FROM guilds ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var recs []RecordV1
	for _, n := range names {
		rec, ok, err := s.Load(n)
		if err != nil {
			s.log.Printf("sqlstore: skipping corrupt guild row %q: %v", n, err)
			continue
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *SQLStore) Delete(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	tables := append([]string{}, childTables...)
	tables = append(tables, "guild_bins", "guilds")
	for _, table := range tables {
		col := "guild_name"
		if table == "guilds" {
			col = "name"
		}
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+col+`=?`, name); err != nil {
			return fmt.Errorf("sqlstore: delete %s rows for %s: %w", table, name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) SaveBin(name string, payload []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("sqlstore: invalid guild name %q", name)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO guild_bins(guild_name,payload,updated_at) VALUES(?,?,?)`,
		name, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLStore) LoadBin(name string) ([]byte, bool, error) {
	row := s.db.QueryRow(`SELECT payload FROM guild_bins WHERE guild_name=?`, name)
	var b []byte
	if err := row.Scan(&b); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

var allianceChildTables = []string{"alliance_members", "alliance_invites"}

func (s *SQLStore) SaveAlliance(rec AllianceRecordV1) error {
	if !ValidName(rec.Name) {
		return fmt.Errorf("sqlstore: invalid alliance name %q", rec.Name)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO alliances(name,founder,description,exp_bonus,extra_claims) VALUES(?,?,?,?,?)`,
		rec.Name, rec.Founder, rec.Description, rec.ExpBonus, rec.ExtraClaims,
	); err != nil {
		return fmt.Errorf("sqlstore: save alliance %s: %w", rec.Name, err)
	}
	for _, table := range allianceChildTables {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE alliance_name=?`, rec.Name); err != nil {
			return fmt.Errorf("sqlstore: clear %s for %s: %w", table, rec.Name, err)
		}
	}
	for _, g := range rec.Members {
		if _, err := tx.Exec(`INSERT INTO alliance_members(alliance_name,guild_name) VALUES(?,?)`, rec.Name, g); err != nil {
			return fmt.Errorf("sqlstore: save alliance member: %w", err)
		}
	}
	for _, g := range rec.Invites {
		if _, err := tx.Exec(`INSERT INTO alliance_invites(alliance_name,guild_name) VALUES(?,?)`, rec.Name, g); err != nil {
			return fmt.Errorf("sqlstore: save alliance invite: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) LoadAlliance(name string) (AllianceRecordV1, bool, error) {
	var rec AllianceRecordV1
	row := s.db.QueryRow(`SELECT name,founder,description,exp_bonus,extra_claims FROM alliances WHERE name=?`, name)
	if err := row.Scan(&rec.Name, &rec.Founder, &rec.Description, &rec.ExpBonus, &rec.ExtraClaims); err != nil {
		if err == sql.ErrNoRows {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("sqlstore: load alliance %s: %w", name, err)
	}

	collect := func(query string, dst *[]string) error {
		rows, err := s.db.Query(query, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			*dst = append(*dst, v)
		}
		return rows.Err()
	}
	if err := collect(`SELECT guild_name FROM alliance_members WHERE alliance_name=? ORDER BY guild_name`, &rec.Members); err != nil {
		return rec, false, fmt.Errorf("sqlstore: load alliance members %s: %w", name, err)
	}
	if err := collect(`SELECT guild_name FROM alliance_invites WHERE alliance_name=? ORDER BY guild_name`, &rec.Invites); err != nil {
		return rec, false, fmt.Errorf("sqlstore: load alliance invites %s: %w", name, err)
	}
	return rec, true, nil
}

func (s *SQLStore) LoadAllAlliances() ([]AllianceRecordV1, error) {
	rows, err := s.db.Query(`SELECT name FROM alliances ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var recs []AllianceRecordV1
	for _, n := range names {
		rec, ok, err := s.LoadAlliance(n)
		if err != nil {
			s.log.Printf("sqlstore: skipping corrupt alliance row %q: %v", n, err)
			continue
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *SQLStore) DeleteAlliance(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	tables := append([]string{}, allianceChildTables...)
	tables = append(tables, "alliances")
	for _, table := range tables {
		col := "alliance_name"
		if table == "alliances" {
			col = "name"
		}
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+col+`=?`, name); err != nil {
			return fmt.Errorf("sqlstore: delete %s rows for %s: %w", table, name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error { return s.db.Close() }

func splitClaim(claim string) (world string, x, z int32, err error) {
	var xi, zi int
	i := lastIndexN(claim, ',', 2)
	if i < 0 {
		return "", 0, 0, fmt.Errorf("malformed claim triple")
	}
	world = claim[:i]
	if _, err := fmt.Sscanf(claim[i+1:], "%d,%d", &xi, &zi); err != nil {
		return "", 0, 0, fmt.Errorf("malformed claim triple: %w", err)
	}
	return world, int32(xi), int32(zi), nil
}

// lastIndexN returns the index of the n-th byte c counted from the end.
func lastIndexN(s string, c byte, n int) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			n--
			if n == 0 {
				return i
			}
		}
	}
	return -1
}

var _ Backend = (*SQLStore)(nil)
