package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore keeps one human-readable YAML document per guild under
// <dir>/, timestamped copies of replaced documents under <dir>/backups/,
// and bin payloads under <dir>/bins/.
//
// A save writes a complete replacement document to a temp file, rotates the
// previous document into backups/, then renames the temp file into place.
// A crash mid-write therefore never corrupts the previous durable copy.
type FileStore struct {
	dir string
	log *log.Logger
}

const backupStamp = "20060102-150405.000000000"

func NewFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	for _, d := range []string{dir, filepath.Join(dir, "backups"), filepath.Join(dir, "bins"), filepath.Join(dir, "alliances")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{dir: dir, log: logger}, nil
}

func (s *FileStore) guildPath(name string) string {
	return filepath.Join(s.dir, name+".yml")
}

func (s *FileStore) binPath(name string) string {
	return filepath.Join(s.dir, "bins", name+".bin")
}

func (s *FileStore) Save(rec RecordV1) error {
	if !ValidName(rec.Name) {
		return fmt.Errorf("filestore: invalid guild name %q", rec.Name)
	}
	b, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", rec.Name, err)
	}

	final := s.guildPath(rec.Name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s: %w", rec.Name, err)
	}
	if err := s.rotateIntoBackup(rec.Name); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", rec.Name, err)
	}
	return nil
}

// rotateIntoBackup moves the current document, if any, into backups/.
func (s *FileStore) rotateIntoBackup(name string) error {
	cur := s.guildPath(name)
	if _, err := os.Stat(cur); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	stamp := time.Now().UTC().Format(backupStamp)
	dst := filepath.Join(s.dir, "backups", fmt.Sprintf("%s-%s.yml", name, stamp))
	if err := os.Rename(cur, dst); err != nil {
		return fmt.Errorf("filestore: rotate %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Load(name string) (RecordV1, bool, error) {
	var rec RecordV1
	if !ValidName(name) {
		return rec, false, fmt.Errorf("filestore: invalid guild name %q", name)
	}
	b, err := os.ReadFile(s.guildPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, false, nil
		}
		return rec, false, err
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return rec, false, fmt.Errorf("filestore: decode %s: %w", name, err)
	}
	if rec.Name == "" {
		rec.Name = name
	}
	if rec.Name != name {
		return rec, false, fmt.Errorf("filestore: document %s names guild %q", name, rec.Name)
	}
	return rec, true, nil
}

func (s *FileStore) LoadAll() ([]RecordV1, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var recs []RecordV1
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yml")
		rec, ok, err := s.Load(name)
		if err != nil {
			s.log.Printf("filestore: skipping corrupt guild document %s: %v", e.Name(), err)
			continue
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *FileStore) Delete(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("filestore: invalid guild name %q", name)
	}
	// One final rotation so the deleted state stays recoverable.
	if err := s.rotateIntoBackup(name); err != nil {
		return err
	}
	if err := os.Remove(s.binPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete bin %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) SaveBin(name string, payload []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("filestore: invalid guild name %q", name)
	}
	final := s.binPath(name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("filestore: write bin %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("filestore: replace bin %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) LoadBin(name string) ([]byte, bool, error) {
	if !ValidName(name) {
		return nil, false, fmt.Errorf("filestore: invalid guild name %q", name)
	}
	b, err := os.ReadFile(s.binPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) alliancePath(name string) string {
	return filepath.Join(s.dir, "alliances", name+".yml")
}

func (s *FileStore) SaveAlliance(rec AllianceRecordV1) error {
	if !ValidName(rec.Name) {
		return fmt.Errorf("filestore: invalid alliance name %q", rec.Name)
	}
	b, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("filestore: encode alliance %s: %w", rec.Name, err)
	}
	final := s.alliancePath(rec.Name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("filestore: write alliance %s: %w", rec.Name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("filestore: replace alliance %s: %w", rec.Name, err)
	}
	return nil
}

func (s *FileStore) LoadAlliance(name string) (AllianceRecordV1, bool, error) {
	var rec AllianceRecordV1
	if !ValidName(name) {
		return rec, false, fmt.Errorf("filestore: invalid alliance name %q", name)
	}
	b, err := os.ReadFile(s.alliancePath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, false, nil
		}
		return rec, false, err
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return rec, false, fmt.Errorf("filestore: decode alliance %s: %w", name, err)
	}
	if rec.Name == "" {
		rec.Name = name
	}
	if rec.Name != name {
		return rec, false, fmt.Errorf("filestore: document %s names alliance %q", name, rec.Name)
	}
	return rec, true, nil
}

func (s *FileStore) LoadAllAlliances() ([]AllianceRecordV1, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "alliances"))
	if err != nil {
		return nil, err
	}
	var recs []AllianceRecordV1
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yml")
		rec, ok, err := s.LoadAlliance(name)
		if err != nil {
			s.log.Printf("filestore: skipping corrupt alliance document %s: %v", e.Name(), err)
			continue
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *FileStore) DeleteAlliance(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("filestore: invalid alliance name %q", name)
	}
	if err := os.Remove(s.alliancePath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete alliance %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

var _ Backend = (*FileStore)(nil)
