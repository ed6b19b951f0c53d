package buildsvc

import (
	"context"
	"sync"
)

// Fake is an in-memory Service for tests: it records every Trigger call and
// lets the test script which job names should fail and how.
type Fake struct {
	mu sync.Mutex

	Triggered []BuildJob
	States    map[string]State

	// NotFound/IllegalArgument/Transient name job names that should fail
	// with the corresponding error on every Trigger call while set.
	NotFound        map[string]bool
	IllegalArgument map[string]bool
	Transient       map[string]bool
}

// NewFake returns an empty Fake build service.
func NewFake() *Fake {
	return &Fake{
		States:          make(map[string]State),
		NotFound:        make(map[string]bool),
		IllegalArgument: make(map[string]bool),
		Transient:       make(map[string]bool),
	}
}

func (f *Fake) Trigger(_ context.Context, job BuildJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NotFound[job.JobName] {
		return ErrNotFound
	}
	if f.IllegalArgument[job.JobName] {
		return ErrIllegalArgument
	}
	if f.Transient[job.JobName] {
		return ErrTransient
	}
	f.Triggered = append(f.Triggered, job)
	return nil
}

func (f *Fake) StateOf(_ context.Context, job BuildJob) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.States[job.JobName]; ok {
		return s, nil
	}
	return StateIdle, nil
}

// Count returns how many times JobName jobName was successfully triggered.
func (f *Fake) Count(jobName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.Triggered {
		if j.JobName == jobName {
			n++
		}
	}
	return n
}
