package apprepo

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// Memory is an in-memory Repository, the test double used everywhere the
// teacher would spin up a temp-dir BoltDB store (see BoltRepository for the
// persistent counterpart).
type Memory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	apps  map[string]types.Application
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		locks: make(map[string]*sync.Mutex),
		apps:  make(map[string]types.Application),
	}
}

// Seed stores applications directly, bypassing locking. Intended for test
// setup only.
func (m *Memory) Seed(apps ...types.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range apps {
		m.apps[a.ID] = a
	}
}

func (m *Memory) Get(id string) (types.Application, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	return app, ok, nil
}

func (m *Memory) Require(id string) (types.Application, error) {
	app, ok, err := m.Get(id)
	if err != nil {
		return types.Application{}, err
	}
	if !ok {
		return types.Application{}, fmt.Errorf("application %q: %w", id, ErrNotFound)
	}
	return app, nil
}

func (m *Memory) AsList() ([]types.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Application, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Memory) LockOrThrow(id string, fn MutateFunc) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	app, err := m.Require(id)
	if err != nil {
		return err
	}
	next, err := fn(app)
	if err != nil {
		return err
	}
	return m.Store(next)
}

func (m *Memory) LockIfPresent(id string, fn MutateFunc) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	app, ok, err := m.Get(id)
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
	return m.Store(next)
}

func (m *Memory) Store(app types.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = app
	return nil
}

func (m *Memory) Prune(olderThan time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, app := range m.apps {
		m.apps[id] = pruneApplication(app, olderThan, now)
	}
	return nil
}
