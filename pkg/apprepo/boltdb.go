package apprepo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/deploytrigger/pkg/types"
)

var bucketApplications = []byte("applications")

// BoltRepository is the persistent Repository, one JSON blob per
// application in a single bbolt bucket — the same bucket-per-entity,
// JSON-blob-per-record shape as the teacher's BoltStore, with the
// application id as key instead of a node/service/container id.
//
// bbolt serializes all writes through a single writer transaction, which
// already gives cross-application mutual exclusion at the storage layer;
// the in-process keyed mutex below additionally serializes the
// read-mutate-write cycle of a single LockOrThrow call so that two
// concurrent triggers of the same (application, jobType) never race
// between their Get and their Store (§3 invariant 5).
type BoltRepository struct {
	db *bolt.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBoltRepository opens (creating if necessary) the bbolt database file
// under dataDir.
func NewBoltRepository(dataDir string) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "deploytrigger.db")

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open application repository: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketApplications)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init application repository buckets: %w", err)
	}

	return &BoltRepository{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database file.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func (r *BoltRepository) Get(id string) (types.Application, bool, error) {
	var app types.Application
	var found bool

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return types.Application{}, false, fmt.Errorf("get application %q: %w", id, err)
	}
	return app, found, nil
}

func (r *BoltRepository) Require(id string) (types.Application, error) {
	app, ok, err := r.Get(id)
	if err != nil {
		return types.Application{}, err
	}
	if !ok {
		return types.Application{}, fmt.Errorf("application %q: %w", id, ErrNotFound)
	}
	return app, nil
}

func (r *BoltRepository) AsList() ([]types.Application, error) {
	var out []types.Application
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		return b.ForEach(func(_, data []byte) error {
			var app types.Application
			if err := json.Unmarshal(data, &app); err != nil {
				return err
			}
			out = append(out, app)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return out, nil
}

func (r *BoltRepository) Store(app types.Application) error {
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application %q: %w", app.ID, err)
	}
	err = r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		return b.Put([]byte(app.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store application %q: %w", app.ID, err)
	}
	return nil
}

func (r *BoltRepository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *BoltRepository) LockOrThrow(id string, fn MutateFunc) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	app, err := r.Require(id)
	if err != nil {
		return err
	}
	next, err := fn(app)
	if err != nil {
		return err
	}
	return r.Store(next)
}

func (r *BoltRepository) LockIfPresent(id string, fn MutateFunc) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	app, ok, err := r.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	next, err := fn(app)
	if err != nil {
		return err
	}
	return r.Store(next)
}

func (r *BoltRepository) Prune(olderThan time.Duration, now time.Time) error {
	apps, err := r.AsList()
	if err != nil {
		return err
	}
	for _, app := range apps {
		pruned := pruneApplication(app, olderThan, now)
		if err := r.Store(pruned); err != nil {
			return err
		}
	}
	return nil
}
