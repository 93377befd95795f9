package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shiva/unipool/internal/model"
)

func testPool(id string, created time.Time, status model.PoolStatus, riders ...string) *model.PoolRide {
	p := &model.PoolRide{ID: id, Status: status, MaxSeats: 4, CreatedAt: created}
	for i, r := range riders {
		p.Participants = append(p.Participants, model.PoolParticipant{
			RiderID: r, SeatsNeeded: 1, Status: model.ParticipantJoined, PickupOrder: i + 1,
		})
	}
	p.RecomputeSeats()
	return p
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetPool(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPool err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBooking(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBooking err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPool("p1", time.Now(), model.PoolWaiting, "r1")
	if err := s.CreatePool(ctx, p); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := s.CreatePool(ctx, p); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second CreatePool err = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_UpdatePoolVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPool("p1", time.Now(), model.PoolWaiting, "r1")
	_ = s.CreatePool(ctx, p)

	stale, _ := s.GetPool(ctx, "p1")
	fresh, _ := s.GetPool(ctx, "p1")

	fresh.Status = model.PoolReady
	ok, err := s.UpdatePool(ctx, fresh, 0)
	if err != nil || !ok {
		t.Fatalf("UpdatePool(fresh) = %v, %v", ok, err)
	}
	if fresh.Version != 1 {
		t.Errorf("Version after update = %d, want 1", fresh.Version)
	}

	stale.Status = model.PoolCancelled
	ok, err = s.UpdatePool(ctx, stale, 0)
	if err != nil || ok {
		t.Fatalf("UpdatePool(stale) = %v, %v, want false, nil", ok, err)
	}

	got, _ := s.GetPool(ctx, "p1")
	if got.Status != model.PoolReady {
		t.Errorf("stored status = %s, want ready", got.Status)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreatePool(ctx, testPool("p1", time.Now(), model.PoolWaiting, "r1"))

	got, _ := s.GetPool(ctx, "p1")
	got.Participants[0].Status = model.ParticipantCancelled

	again, _ := s.GetPool(ctx, "p1")
	if again.Participants[0].Status != model.ParticipantJoined {
		t.Error("mutating a returned pool changed stored state")
	}
}

func TestMemoryStore_DeltasCommitWithUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := &model.Booking{ID: "b1", RiderID: "r1", DriverID: "d1", Fare: 90, Status: model.BookingInProgress}
	_ = s.CreateBooking(ctx, b)

	deltas := []model.StatsDelta{
		{UserID: "d1", Role: model.RoleDriver, Rides: 1, Earnings: 90},
		{UserID: "r1", Role: model.RoleRider, Rides: 1, Spent: 90},
	}

	b.Status = model.BookingCompleted
	if ok, _ := s.UpdateBooking(ctx, b, 0, deltas...); !ok {
		t.Fatal("first UpdateBooking failed")
	}
	// A replay with the old version must not double count.
	if ok, _ := s.UpdateBooking(ctx, b, 0, deltas...); ok {
		t.Fatal("stale UpdateBooking succeeded")
	}

	st, err := s.GetStats(ctx, "d1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.TotalRides != 1 || st.TotalEarnings != 90 {
		t.Errorf("driver stats = %+v", st)
	}
	rs, _ := s.GetStats(ctx, "r1")
	if rs.TotalSpent != 90 || rs.Role != model.RoleRider {
		t.Errorf("rider stats = %+v", rs)
	}
}

func TestMemoryStore_ListQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_ = s.CreatePool(ctx, testPool("p1", base, model.PoolWaiting, "r1"))
	_ = s.CreatePool(ctx, testPool("p2", base.Add(time.Minute), model.PoolReady, "r2", "r1"))
	p3 := testPool("p3", base.Add(2*time.Minute), model.PoolDriverAssigned, "r3")
	p3.Driver = &model.DriverInfo{ID: "d1"}
	_ = s.CreatePool(ctx, p3)

	waiting, _ := s.ListPoolsByStatus(ctx, model.PoolWaiting, model.PoolReady)
	if len(waiting) != 2 || waiting[0].ID != "p1" {
		t.Errorf("ListPoolsByStatus = %v, want [p1 p2] oldest first", ids(waiting))
	}

	mine, _ := s.ListPoolsByRider(ctx, "r1")
	if len(mine) != 2 || mine[0].ID != "p2" {
		t.Errorf("ListPoolsByRider(r1) = %v, want [p2 p1] newest first", ids(mine))
	}

	driven, _ := s.ListPoolsByDriver(ctx, "d1")
	if len(driven) != 1 || driven[0].ID != "p3" {
		t.Errorf("ListPoolsByDriver(d1) = %v", ids(driven))
	}
}

func TestMemoryStore_ConcurrentUpdatesOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreatePool(ctx, testPool("p1", time.Now(), model.PoolWaiting, "r1"))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := s.GetPool(ctx, "p1")
			// Everyone read version 0 or later; only one write per version lands.
			if ok, _ := s.UpdatePool(ctx, p, 0); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners at version 0 = %d, want 1", wins)
	}
}

func ids(pools []*model.PoolRide) []string {
	out := make([]string, len(pools))
	for i, p := range pools {
		out[i] = p.ID
	}
	return out
}
