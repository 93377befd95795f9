package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
)

// testClock is a settable clock safe for concurrent reads.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1))
	}
}

// recordingPublisher remembers every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type notification struct {
	userID string
	event  model.EventType
}

// recordingNotifier remembers notifications and optionally fails them all.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, e model.EventType, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{userID: userID, event: e})
	return n.err
}

func (n *recordingNotifier) to(userID string) []model.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.EventType
	for _, s := range n.sent {
		if s.userID == userID {
			out = append(out, s.event)
		}
	}
	return out
}

// losingStore wraps a store whose conditional writes always lose.
type losingStore struct {
	*repository.MemoryStore
	attempts int32
}

func (s *losingStore) UpdatePool(context.Context, *model.PoolRide, int64, ...model.StatsDelta) (bool, error) {
	atomic.AddInt32(&s.attempts, 1)
	return false, nil
}

func (s *losingStore) UpdateBooking(context.Context, *model.Booking, int64, ...model.StatsDelta) (bool, error) {
	atomic.AddInt32(&s.attempts, 1)
	return false, nil
}

func wantKind(t *testing.T, err error, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want kind %v", err, kind)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func rider(id string) model.RiderInfo {
	return model.RiderInfo{ID: id, Name: "Rider " + id, Phone: "+91-" + id}
}

func driver(id string) model.DriverInfo {
	return model.DriverInfo{ID: id, Name: "Driver " + id, Vehicle: "KA-01-" + id}
}

func place(name string, lat, lng float64) model.NamedLocation {
	return model.NamedLocation{Name: name, Lat: lat, Lng: lng}
}

var (
	mainGate = place("Main Gate", 12.90, 77.59)
	library  = place("Library", 12.93, 77.61)
)
