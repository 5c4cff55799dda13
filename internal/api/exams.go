package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/tips"
)

// examEntry is one running exam. mu serializes answers to the same exam.
type examEntry struct {
	mu      sync.Mutex
	session coach.ExamSession
	tips    *tips.Tracker
	touched time.Time
}

// examRegistry keeps running exams in memory until they finish, are
// abandoned or expire.
type examRegistry struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	exams map[uuid.UUID]*examEntry
}

func newExamRegistry(ttl time.Duration, now func() time.Time) *examRegistry {
	return &examRegistry{ttl: ttl, now: now, exams: map[uuid.UUID]*examEntry{}}
}

// put stores s and returns the number of exams dropped as expired.
func (r *examRegistry) put(s coach.ExamSession) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := r.sweepLocked()
	r.exams[s.ID] = &examEntry{session: s, tips: tips.NewTracker(), touched: r.now()}
	return expired
}

func (r *examRegistry) get(id uuid.UUID) (*examEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exams[id]
	if ok && r.expiredLocked(e) {
		delete(r.exams, id)
		return nil, false
	}
	return e, ok
}

func (r *examRegistry) remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.exams[id]
	delete(r.exams, id)
	return ok
}

func (r *examRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exams)
}

func (r *examRegistry) expiredLocked(e *examEntry) bool {
	if r.ttl <= 0 {
		return false
	}
	e.mu.Lock()
	touched := e.touched
	e.mu.Unlock()
	return r.now().Sub(touched) > r.ttl
}

func (r *examRegistry) sweepLocked() int {
	n := 0
	for id, e := range r.exams {
		if r.expiredLocked(e) {
			delete(r.exams, id)
			n++
		}
	}
	return n
}
