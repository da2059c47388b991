package service

import (
	"context"
	"testing"
	"time"

	"github.com/kube-rca/snow-bridge/internal/config"
	"github.com/kube-rca/snow-bridge/internal/model"
	"github.com/kube-rca/snow-bridge/internal/store"
)

// 유예기간을 아직 넘기지 않은 pending 바인딩은 스윕이 건드리지 않음
func TestSweepLeavesFreshPendingAlone(t *testing.T) {
	ctx := context.Background()
	bindings := store.NewMemory()
	snow := &fakeSnow{}
	rec := NewReconcilerService(bindings, snow, config.ReopenPolicyNew)

	fresh := model.TicketBinding{
		ConditionKey:   "prod:DiskFull",
		LifecycleState: model.LifecyclePendingCreate,
		Summary:        "Disk is full",
		LastTransition: time.Now().UTC(),
	}
	if ok, _ := bindings.CompareAndSet(ctx, fresh.ConditionKey, model.LifecycleNone, fresh); !ok {
		t.Fatal("seed failed")
	}

	sweeper := NewSweeperService(bindings, rec, time.Minute, time.Hour)
	if retried := sweeper.Sweep(ctx); retried != 0 {
		t.Fatalf("Sweep() retried %d, want 0", retried)
	}
	creates, _, _ := snow.counts()
	if creates != 0 {
		t.Fatalf("create calls = %d, want 0", creates)
	}
}

// 유예기간을 넘긴 pending_resolve는 스윕이 해결을 완결함
func TestSweepCompletesStuckResolve(t *testing.T) {
	ctx := context.Background()
	bindings := store.NewMemory()
	snow := &fakeSnow{}
	rec := NewReconcilerService(bindings, snow, config.ReopenPolicyNew)

	stuck := model.TicketBinding{
		ConditionKey:     "prod:DiskFull",
		ExternalTicketID: "sys-9",
		TicketNumber:     "INC0009",
		LifecycleState:   model.LifecyclePendingResolve,
		LastObservedAt:   time.Now().UTC().Add(-10 * time.Minute),
		LastTransition:   time.Now().UTC().Add(-10 * time.Minute),
	}
	if ok, _ := bindings.CompareAndSet(ctx, stuck.ConditionKey, model.LifecycleNone, stuck); !ok {
		t.Fatal("seed failed")
	}

	sweeper := NewSweeperService(bindings, rec, time.Minute, time.Minute)
	if retried := sweeper.Sweep(ctx); retried != 1 {
		t.Fatalf("Sweep() retried %d, want 1", retried)
	}

	mustState(t, bindings, "prod:DiskFull", model.LifecycleResolved)
	_, resolves, _ := snow.counts()
	if resolves != 1 {
		t.Fatalf("resolve calls = %d, want 1", resolves)
	}
}

// 스윕 도중 새 이벤트가 같은 조건을 먼저 전이시키면 CAS가 중복 동작을 막음
func TestSweepLosesRaceGracefully(t *testing.T) {
	ctx := context.Background()
	bindings := store.NewMemory()
	snow := &fakeSnow{}
	rec := NewReconcilerService(bindings, snow, config.ReopenPolicyNew)

	stale := model.TicketBinding{
		ConditionKey:   "prod:DiskFull",
		LifecycleState: model.LifecyclePendingCreate,
		Summary:        "Disk is full",
		LastTransition: time.Now().UTC().Add(-10 * time.Minute),
	}
	if ok, _ := bindings.CompareAndSet(ctx, stale.ConditionKey, model.LifecycleNone, stale); !ok {
		t.Fatal("seed failed")
	}

	// 스윕이 ListStuck으로 잡아간 스냅샷보다 먼저 본 처리가 끝난 상황을 재현:
	// 바인딩은 이미 open으로 전이됨
	won := stale
	won.LifecycleState = model.LifecycleOpen
	won.ExternalTicketID = "sys-1"
	won.LastTransition = time.Now().UTC()
	if ok, _ := bindings.CompareAndSet(ctx, won.ConditionKey, model.LifecyclePendingCreate, won); !ok {
		t.Fatal("transition seed failed")
	}

	// 스윕은 stale 스냅샷으로 재시도하지만 CAS에서 져야 함
	if err := rec.RetryPending(ctx, stale); err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}

	b := mustState(t, bindings, "prod:DiskFull", model.LifecycleOpen)
	if b.ExternalTicketID != "sys-1" {
		t.Fatalf("binding ticket = %s, want sys-1 kept", b.ExternalTicketID)
	}
}
