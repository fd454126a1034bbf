package thread

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/telehole/telehole/internal/models"
	"github.com/telehole/telehole/internal/store"
)

func TestCreatorIsOrdinalZero(t *testing.T) {
	r := NewRegistry(store.NewInMemoryStore())
	ctx := context.Background()

	if err := r.Create(ctx, 100, 1); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ord, err := r.RegisterParticipant(ctx, 1, 100)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if ord != 0 {
		t.Errorf("creator ordinal = %d, want 0", ord)
	}
}

func TestOrdinalsAssignedInFirstSeenOrder(t *testing.T) {
	r := NewRegistry(store.NewInMemoryStore())
	ctx := context.Background()
	if err := r.Create(ctx, 100, 1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, tc := range []struct {
		userID int64
		want   int
	}{{200, 1}, {300, 2}, {200, 1}, {100, 0}} {
		ord, err := r.RegisterParticipant(ctx, 1, tc.userID)
		if err != nil {
			t.Fatalf("register %d failed: %v", tc.userID, err)
		}
		if ord != tc.want {
			t.Errorf("ordinal for %d = %d, want %d", tc.userID, ord, tc.want)
		}
	}

	th, err := r.ResolveByPublicID(ctx, 1)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(th.Participants) != 3 {
		t.Errorf("participants length = %d, want 3", len(th.Participants))
	}
}

func TestConcurrentRegistrationGapFree(t *testing.T) {
	r := NewRegistry(store.NewInMemoryStore())
	ctx := context.Background()
	if err := r.Create(ctx, 100, 1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const repliers = 10
	var wg sync.WaitGroup
	ordinals := make([]int, repliers)
	for i := 0; i < repliers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ord, err := r.RegisterParticipant(ctx, 1, int64(200+i))
			if err != nil {
				t.Errorf("register failed: %v", err)
				return
			}
			ordinals[i] = ord
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, ord := range ordinals {
		if ord < 1 || ord > repliers {
			t.Errorf("ordinal %d out of range [1,%d]", ord, repliers)
		}
		if seen[ord] {
			t.Errorf("duplicate ordinal %d", ord)
		}
		seen[ord] = true
	}
}

func TestBindInternalIDExactlyOnce(t *testing.T) {
	r := NewRegistry(store.NewInMemoryStore())
	ctx := context.Background()
	if err := r.Create(ctx, 100, 1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := r.ResolveByInternalID(ctx, 55); !errors.Is(err, models.ErrThreadNotFound) {
		t.Errorf("resolve before bind: got %v, want ErrThreadNotFound", err)
	}
	if err := r.BindInternalID(ctx, 1, 55); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := r.BindInternalID(ctx, 1, 55); err != nil {
		t.Errorf("same-value rebind should be accepted: %v", err)
	}
	if err := r.BindInternalID(ctx, 1, 56); !errors.Is(err, models.ErrInternalIDBound) {
		t.Errorf("conflicting rebind: got %v, want ErrInternalIDBound", err)
	}

	th, err := r.ResolveByInternalID(ctx, 55)
	if err != nil {
		t.Fatalf("resolve after bind failed: %v", err)
	}
	if th.PublicID != 1 {
		t.Errorf("resolved wrong thread: %+v", th)
	}
}
