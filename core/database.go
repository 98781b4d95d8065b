package core

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// DefaultJournalSize bounds the number of deltas a database retains for
// incremental replication.
const DefaultJournalSize = 1024

// EntryKey identifies a database entry by the spacecraft it groups.
type EntryKey []uuid.UUID

// Entry is one shared value and the spacecraft it applies to, in order.
type Entry[T any] struct {
	Spacecraft EntryKey
	Value      T
}

// DeltaOp is the kind of change carried by a Delta.
type DeltaOp int

const (
	// DeltaAdd appends or replaces an entry.
	DeltaAdd DeltaOp = iota
	// DeltaRemove deletes the spacecraft listed in the delta.
	DeltaRemove
)

func (op DeltaOp) String() string {
	switch op {
	case DeltaAdd:
		return "add"
	case DeltaRemove:
		return "remove"
	default:
		return fmt.Sprintf("DeltaOp(%d)", int(op))
	}
}

// Delta is one replicated mutation.
type Delta[T any] struct {
	Version    uint64
	Op         DeltaOp
	Spacecraft []uuid.UUID
	Value      T
}

// DatabaseOption configures a Database.
type DatabaseOption[T any] func(*Database[T])

// WithValidator rejects values for which validate returns an error.
func WithValidator[T any](validate func(T) error) DatabaseOption[T] {
	return func(db *Database[T]) {
		db.validate = validate
	}
}

// WithJournalSize sets how many deltas are retained for DeltasSince.
func WithJournalSize[T any](n int) DatabaseOption[T] {
	return func(db *Database[T]) {
		if n >= 0 {
			db.journalSize = n
		}
	}
}

// Database stores values shared by groups of spacecraft. Entries are kept in
// an ordered list; lookups go through an index that is only refreshed by an
// explicit UpdateCache call. A spacecraft belongs to at most one entry.
//
// Database is not safe for concurrent use; the owner serialises access.
type Database[T any] struct {
	entries []*Entry[T]
	index   map[uuid.UUID]*Entry[T]

	validate    func(T) error
	version     uint64
	journal     []Delta[T]
	journalSize int
}

// NewDatabase returns an empty database.
func NewDatabase[T any](opts ...DatabaseOption[T]) *Database[T] {
	db := &Database[T]{
		index:       make(map[uuid.UUID]*Entry[T]),
		journalSize: DefaultJournalSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Add stores value for the spacecraft in ids. If an entry with exactly the
// same identifiers exists its value is replaced and Add returns false.
// Otherwise the identifiers are detached from any other entry, entries left
// empty are dropped, and a new entry is appended.
func (db *Database[T]) Add(ids []uuid.UUID, value T) (bool, error) {
	if err := ValidateFleet(ids); err != nil {
		return false, err
	}
	if db.validate != nil {
		if err := db.validate(value); err != nil {
			return false, err
		}
	}

	db.version++
	db.record(Delta[T]{Version: db.version, Op: DeltaAdd, Spacecraft: slices.Clone(ids), Value: value})
	return db.apply(ids, value), nil
}

// Remove detaches ids from their entries, dropping entries left empty. It
// returns how many identifiers were found.
func (db *Database[T]) Remove(ids []uuid.UUID) int {
	if len(ids) == 0 {
		return 0
	}
	removed := db.detach(ids)
	if removed == 0 {
		return 0
	}
	db.version++
	var zero T
	db.record(Delta[T]{Version: db.version, Op: DeltaRemove, Spacecraft: slices.Clone(ids), Value: zero})
	return removed
}

// UpdateCache rebuilds the identifier index from the entry list.
func (db *Database[T]) UpdateCache() {
	clear(db.index)
	for _, e := range db.entries {
		for _, id := range e.Spacecraft {
			db.index[id] = e
		}
	}
}

// Get returns the value stored for id as of the last UpdateCache.
func (db *Database[T]) Get(id uuid.UUID) (T, bool) {
	e, ok := db.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.Value, true
}

// Members returns the identifiers sharing id's entry, as of the last
// UpdateCache.
func (db *Database[T]) Members(id uuid.UUID) []uuid.UUID {
	e, ok := db.index[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.Spacecraft)
}

// SpacecraftIndex returns the position of id within its entry, or -1.
func (db *Database[T]) SpacecraftIndex(id uuid.UUID) int {
	e, ok := db.index[id]
	if !ok {
		return -1
	}
	return slices.Index(e.Spacecraft, id)
}

// Entries returns the ordered entry list. Callers must not modify it.
func (db *Database[T]) Entries() []*Entry[T] {
	return db.entries
}

// Len returns the number of entries.
func (db *Database[T]) Len() int { return len(db.entries) }

// Version returns the number of mutations applied so far.
func (db *Database[T]) Version() uint64 { return db.version }

// DeltasSince returns the mutations after version. The boolean is false when
// the journal no longer reaches back that far and a full snapshot is needed.
func (db *Database[T]) DeltasSince(version uint64) ([]Delta[T], bool) {
	if version >= db.version {
		return nil, true
	}
	if len(db.journal) == 0 || db.journal[0].Version > version+1 {
		return nil, false
	}
	start := int(version + 1 - db.journal[0].Version)
	return slices.Clone(db.journal[start:]), true
}

// Apply replays deltas received from another database. Deltas at or below the
// current version are ignored. The cache is not refreshed.
func (db *Database[T]) Apply(deltas []Delta[T]) error {
	for _, d := range deltas {
		if d.Version <= db.version {
			continue
		}
		if d.Version != db.version+1 {
			return fmt.Errorf("delta version %d does not follow %d", d.Version, db.version)
		}
		switch d.Op {
		case DeltaAdd:
			db.apply(d.Spacecraft, d.Value)
		case DeltaRemove:
			db.detach(d.Spacecraft)
		default:
			return fmt.Errorf("unknown delta op %v", d.Op)
		}
		db.version = d.Version
		db.record(d)
	}
	return nil
}

// Reset replaces the whole content, typically from a snapshot, and rebuilds
// the cache.
func (db *Database[T]) Reset(version uint64, entries []Entry[T]) {
	db.entries = db.entries[:0]
	for _, e := range entries {
		db.entries = append(db.entries, &Entry[T]{Spacecraft: slices.Clone(e.Spacecraft), Value: e.Value})
	}
	db.version = version
	db.journal = nil
	db.UpdateCache()
}

func (db *Database[T]) apply(ids []uuid.UUID, value T) bool {
	for _, e := range db.entries {
		if slices.Equal(e.Spacecraft, ids) {
			e.Value = value
			return false
		}
	}
	db.detach(ids)
	db.entries = append(db.entries, &Entry[T]{Spacecraft: slices.Clone(ids), Value: value})
	return true
}

func (db *Database[T]) detach(ids []uuid.UUID) int {
	removed := 0
	kept := db.entries[:0]
	for _, e := range db.entries {
		before := len(e.Spacecraft)
		e.Spacecraft = slices.DeleteFunc(e.Spacecraft, func(id uuid.UUID) bool {
			return slices.Contains(ids, id)
		})
		removed += before - len(e.Spacecraft)
		if len(e.Spacecraft) > 0 {
			kept = append(kept, e)
		}
	}
	clear(db.entries[len(kept):])
	db.entries = kept
	return removed
}

func (db *Database[T]) record(d Delta[T]) {
	if db.journalSize == 0 {
		return
	}
	db.journal = append(db.journal, d)
	if over := len(db.journal) - db.journalSize; over > 0 {
		db.journal = slices.Delete(db.journal, 0, over)
	}
}

// ValidateFleet reports an empty identifier list or a repeated identifier.
func ValidateFleet(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return ErrEmptyFleet
	}
	for i, id := range ids {
		if slices.Contains(ids[:i], id) {
			return fmt.Errorf("%w: %s", ErrDuplicateSpacecraft, id)
		}
	}
	return nil
}

// OrbitDatabase groups parked spacecraft by the orbit they share.
type OrbitDatabase = Database[Orbit]

// TrajectoryDatabase groups travelling spacecraft by the trajectory they share.
type TrajectoryDatabase = Database[*Trajectory]

// NewOrbitDatabase returns an orbit database rejecting invalid orbits.
func NewOrbitDatabase(opts ...DatabaseOption[Orbit]) *OrbitDatabase {
	return NewDatabase(append([]DatabaseOption[Orbit]{WithValidator(Orbit.Validate)}, opts...)...)
}

// NewTrajectoryDatabase returns a trajectory database rejecting invalid
// trajectories.
func NewTrajectoryDatabase(opts ...DatabaseOption[*Trajectory]) *TrajectoryDatabase {
	return NewDatabase(append([]DatabaseOption[*Trajectory]{WithValidator((*Trajectory).Validate)}, opts...)...)
}
