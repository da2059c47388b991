package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kube-rca/snow-bridge/internal/model"
)

func TestMemoryCompareAndSet(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		seed     *model.TicketBinding
		expected model.LifecycleState
		want     bool
	}{
		{
			name:     "insert-when-absent",
			seed:     nil,
			expected: model.LifecycleNone,
			want:     true,
		},
		{
			name:     "insert-fails-when-present",
			seed:     &model.TicketBinding{LifecycleState: model.LifecycleOpen},
			expected: model.LifecycleNone,
			want:     false,
		},
		{
			name:     "update-matching-state",
			seed:     &model.TicketBinding{LifecycleState: model.LifecyclePendingCreate},
			expected: model.LifecyclePendingCreate,
			want:     true,
		},
		{
			name:     "update-fails-on-state-mismatch",
			seed:     &model.TicketBinding{LifecycleState: model.LifecycleResolved},
			expected: model.LifecycleOpen,
			want:     false,
		},
		{
			name:     "update-fails-when-absent",
			seed:     nil,
			expected: model.LifecycleOpen,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			if tt.seed != nil {
				if ok, err := m.CompareAndSet(ctx, "ns:alert", model.LifecycleNone, *tt.seed); err != nil || !ok {
					t.Fatalf("seed failed: ok=%v err=%v", ok, err)
				}
			}

			ok, err := m.CompareAndSet(ctx, "ns:alert", tt.expected, model.TicketBinding{LifecycleState: model.LifecycleOpen})
			if err != nil {
				t.Fatalf("CompareAndSet() error = %v", err)
			}
			if ok != tt.want {
				t.Fatalf("CompareAndSet() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	seed := model.TicketBinding{
		LifecycleState: model.LifecycleOpen,
		Labels:         map[string]string{"alertname": "DiskFull"},
	}
	if ok, _ := m.CompareAndSet(ctx, "default:DiskFull", model.LifecycleNone, seed); !ok {
		t.Fatal("seed failed")
	}

	got, err := m.Get(ctx, "default:DiskFull")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	got.Labels["alertname"] = "mutated"
	got.LifecycleState = model.LifecycleResolved

	again, _ := m.Get(ctx, "default:DiskFull")
	if again.Labels["alertname"] != "DiskFull" || again.LifecycleState != model.LifecycleOpen {
		t.Fatalf("stored binding mutated through returned copy: %+v", again)
	}
}

func TestMemoryGetAbsent(t *testing.T) {
	m := NewMemory()
	got, err := m.Get(context.Background(), "no:such")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil", got)
	}
}

// 동시에 N개의 고루틴이 같은 키로 insert CAS를 시도하면 정확히 하나만 이겨야 함
func TestMemoryConcurrentInsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.CompareAndSet(ctx, "default:DiskFull", model.LifecycleNone, model.TicketBinding{
				LifecycleState: model.LifecyclePendingCreate,
			})
			if err != nil {
				t.Errorf("CompareAndSet() error = %v", err)
				return
			}
			if ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("winners = %d, want 1", count)
	}
}

func TestMemoryListStuck(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	seed := []model.TicketBinding{
		{ConditionKey: "a", LifecycleState: model.LifecyclePendingCreate, LastTransition: now.Add(-5 * time.Minute)},
		{ConditionKey: "b", LifecycleState: model.LifecyclePendingResolve, LastTransition: now.Add(-3 * time.Minute)},
		{ConditionKey: "c", LifecycleState: model.LifecyclePendingCreate, LastTransition: now}, // 아직 유예기간 안
		{ConditionKey: "d", LifecycleState: model.LifecycleOpen, LastTransition: now.Add(-10 * time.Minute)},
		{ConditionKey: "e", LifecycleState: model.LifecyclePendingCreate, LastTransition: now.Add(-10 * time.Minute), Frozen: true},
	}
	for _, b := range seed {
		if ok, _ := m.CompareAndSet(ctx, b.ConditionKey, model.LifecycleNone, b); !ok {
			t.Fatalf("seed %s failed", b.ConditionKey)
		}
	}

	stuck, err := m.ListStuck(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListStuck() error = %v", err)
	}
	if len(stuck) != 2 {
		t.Fatalf("ListStuck() returned %d bindings, want 2: %+v", len(stuck), stuck)
	}
	if stuck[0].ConditionKey != "a" || stuck[1].ConditionKey != "b" {
		t.Fatalf("ListStuck() order = %s, %s; want a, b", stuck[0].ConditionKey, stuck[1].ConditionKey)
	}
}
