package table

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DiskStore is a badger-backed PredicateTable for predicate tables too
// large to hold in memory (SPEC_FULL.md §B.1). Keys are ordered
// big-endian (subject_id, timestamp) pairs so that a per-subject scan is
// a single ordered badger iteration, mirroring the teacher's own
// EAVT-style ordered binary key encoding (datalog/storage/key_encoder_binary.go).
type DiskStore struct {
	db         *badger.DB
	predicates []string
	// static holds patient_demographics counts in memory, per subject
	// (SPEC_FULL.md §C.5); static rows are never written to badger.
	static map[int64]map[string]int64
}

// OpenDiskStore opens (creating if absent) a badger database at path to
// back a DiskStore. Call Close when done.
func OpenDiskStore(path string) (*DiskStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open disk predicate store: %w", err)
	}
	return &DiskStore{db: db}, nil
}

// Close releases the underlying badger database.
func (d *DiskStore) Close() error {
	return d.db.Close()
}

// Load ingests rows into the store. A row overwrites a stored row with the
// same (subject_id, timestamp); stored rows at other timestamps are not
// removed, and static counts are added to any already loaded for the
// subject.
func (d *DiskStore) Load(rows []Row) error {
	predSet := make(map[string]struct{})
	if d.static == nil {
		d.static = make(map[int64]map[string]int64)
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		for _, r := range rows {
			if r.Static {
				// static rows are never spilled; they fit in memory per subject
				if d.static[r.SubjectID] == nil {
					d.static[r.SubjectID] = make(map[string]int64)
				}
				for pred, c := range r.Counts {
					d.static[r.SubjectID][pred] += c
				}
				continue
			}
			for name := range r.Counts {
				predSet[name] = struct{}{}
			}
			key := encodeKey(r.SubjectID, r.Timestamp)
			val, err := encodeRow(r)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load predicate rows: %w", err)
	}
	for p := range predSet {
		d.predicates = append(d.predicates, p)
	}
	return nil
}

func encodeKey(subjectID int64, ts time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(subjectID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts.UnixMicro()))
	return buf
}

func decodeKey(key []byte) (subjectID int64, ts time.Time) {
	subjectID = int64(binary.BigEndian.Uint64(key[0:8]))
	micros := int64(binary.BigEndian.Uint64(key[8:16]))
	return subjectID, time.UnixMicro(micros)
}

func encodeRow(r Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r.Counts); err != nil {
		return nil, fmt.Errorf("encode row counts: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRow(subjectID int64, ts time.Time, val []byte) (Row, error) {
	var counts map[string]int64
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&counts); err != nil {
		return Row{}, fmt.Errorf("decode row counts: %w", err)
	}
	return Row{SubjectID: subjectID, Timestamp: ts, Counts: counts}, nil
}

// Subjects returns every distinct subject_id present, ascending (key
// order already guarantees this since subject_id is the key's high
// component).
func (d *DiskStore) Subjects() []int64 {
	var subjects []int64
	var last int64
	first := true
	_ = d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			subj, _ := decodeKey(it.Item().KeyCopy(nil))
			if first || subj != last {
				subjects = append(subjects, subj)
				last = subj
				first = false
			}
		}
		return nil
	})
	return subjects
}

// Rows returns subjectID's rows in timestamp order, via a prefix scan
// over the ordered (subject_id, timestamp) keyspace.
func (d *DiskStore) Rows(subjectID int64) []Row {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, uint64(subjectID))

	var rows []Row
	_ = d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			subj, ts := decodeKey(key)
			err := item.Value(func(val []byte) error {
				row, err := decodeRow(subj, ts, val)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rows
}

// Predicates returns the set of predicate-count column names seen by Load.
func (d *DiskStore) Predicates() []string {
	out := make([]string, len(d.predicates))
	copy(out, d.predicates)
	return out
}

// StaticCounts returns subjectID's patient_demographics counts loaded via
// Load (SPEC_FULL.md §C.5).
func (d *DiskStore) StaticCounts(subjectID int64) map[string]int64 {
	out := make(map[string]int64)
	for pred, c := range d.static[subjectID] {
		out[pred] = c
	}
	return out
}

var _ PredicateTable = (*DiskStore)(nil)
