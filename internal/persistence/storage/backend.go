package storage

import "regexp"

// Backend is the durable persistence contract shared by the file and
// relational implementations. Save is transactional: either every
// sub-structure of the record lands durably or none does.
//
// Bin payloads are opaque inventory-like blobs stored alongside, but
// independently of, the structured record.
//
// All methods block on I/O and are meant to be called from the flush and
// backup goroutines only, never from the game-logic thread.
type Backend interface {
	Save(rec RecordV1) error
	Load(name string) (RecordV1, bool, error)
	Delete(name string) error
	// LoadAll enumerates every persisted guild for startup warm-up. A
	// corrupt or malformed record is skipped and logged, never fatal.
	LoadAll() ([]RecordV1, error)

	SaveBin(name string, payload []byte) error
	LoadBin(name string) ([]byte, bool, error)

	SaveAlliance(rec AllianceRecordV1) error
	LoadAlliance(name string) (AllianceRecordV1, bool, error)
	DeleteAlliance(name string) error
	LoadAllAlliances() ([]AllianceRecordV1, error)

	Close() error
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// ValidName reports whether a guild name is storable. The same pattern is
// enforced at guild creation, so a violation here means a programming error
// or a hand-edited data directory.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}
