package rundb

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketRuns = "runs"
)

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is one build-thread execution: a project/architecture pair,
// its progress milestone (the last phase it reached, per §4.3's phase
// table), final status, and timestamps.
type Record struct {
	UUID      string    `json:"uuid"`
	Project   string    `json:"project"`
	Arch      string    `json:"arch"`
	Status    string    `json:"status"`
	LastPhase string    `json:"last_phase"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// DB wraps a bbolt database file, one per build root (<build_dir>/runs.db).
type DB struct {
	db *bolt.DB
}

// Open opens or creates the run ledger at path, initializing its bucket.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketRuns)); err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketRuns, Err: err}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// StartRun creates a new run record keyed by a fresh UUID and returns it.
func (db *DB) StartRun(project, arch string) (string, error) {
	id := uuid.NewString()
	rec := Record{
		UUID:      id,
		Project:   project,
		Arch:      arch,
		Status:    StatusRunning,
		LastPhase: "prepare_log",
		StartTime: time.Now(),
	}
	if err := db.put(&rec); err != nil {
		return "", err
	}
	return id, nil
}

// SetPhase records the last phase a run reached, matching the progress
// milestones of §4.3 (prepare_log, lock_acquired, deps_installed,
// cloned, built).
func (db *DB) SetPhase(id, phase string) error {
	return db.update(id, func(r *Record) { r.LastPhase = phase })
}

// Finish records a run's terminal status and end time.
func (db *DB) Finish(id, status string) error {
	return db.update(id, func(r *Record) {
		r.Status = status
		r.EndTime = time.Now()
	})
}

// Get retrieves a run record by UUID.
func (db *DB) Get(id string) (*Record, error) {
	if id == "" {
		return nil, &ValidationError{Field: "uuid", Err: ErrEmptyUUID}
	}

	var rec Record
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return &RecordError{Op: "get", UUID: id, Err: ErrRecordNotFound}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns the most recent n run records for project/arch, newest
// first. If arch is empty, all architectures for project are returned.
func (db *DB) Recent(project, arch string, n int) ([]Record, error) {
	var all []Record

	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return &RecordError{Op: "unmarshal", UUID: string(k), Err: err}
			}
			if rec.Project != project {
				continue
			}
			if arch != "" && rec.Arch != arch {
				continue
			}
			all = append(all, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRecordsByStartDesc(all)
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func sortRecordsByStartDesc(recs []Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].StartTime.After(recs[j-1].StartTime); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

func (db *DB) put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", UUID: rec.UUID, Err: err}
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.Put([]byte(rec.UUID), data)
	})
}

func (db *DB) update(id string, mutate func(*Record)) error {
	if id == "" {
		return &ValidationError{Field: "uuid", Err: ErrEmptyUUID}
	}

	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return &RecordError{Op: "update", UUID: id, Err: ErrRecordNotFound}
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal", UUID: id, Err: err}
		}

		mutate(&rec)

		updated, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal", UUID: id, Err: err}
		}
		return bucket.Put([]byte(id), updated)
	})
}
