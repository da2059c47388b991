// 인메모리 바인딩 저장소
// 단일 인스턴스 배포용, 다중 인스턴스는 Postgres 백엔드를 사용해야 함

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kube-rca/snow-bridge/internal/model"
)

// Memory - 뮤텍스로 보호되는 바인딩 테이블
// 값은 복사해서 넣고 복사해서 꺼냄 (호출자가 맵을 들고 변조하지 못하도록)
type Memory struct {
	mu       sync.Mutex
	bindings map[string]model.TicketBinding
}

func NewMemory() *Memory {
	return &Memory{
		bindings: make(map[string]model.TicketBinding),
	}
}

func (m *Memory) Get(_ context.Context, conditionKey string) (*model.TicketBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[conditionKey]
	if !ok {
		return nil, nil
	}
	copied := cloneBinding(b)
	return &copied, nil
}

func (m *Memory) CompareAndSet(_ context.Context, conditionKey string, expected model.LifecycleState, binding model.TicketBinding) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	current, exists := m.bindings[conditionKey]

	// expected가 none이면 레코드가 없어야 함
	if expected == model.LifecycleNone {
		if exists {
			return false, nil
		}
		binding.ConditionKey = conditionKey
		binding.CreatedAt = now
		binding.UpdatedAt = now
		m.bindings[conditionKey] = cloneBinding(binding)
		return true, nil
	}

	if !exists || current.LifecycleState != expected {
		return false, nil
	}

	binding.ConditionKey = conditionKey
	binding.CreatedAt = current.CreatedAt
	binding.UpdatedAt = now
	m.bindings[conditionKey] = cloneBinding(binding)
	return true, nil
}

func (m *Memory) ListStuck(_ context.Context, before time.Time) ([]model.TicketBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stuck []model.TicketBinding
	for _, b := range m.bindings {
		if b.LifecycleState.Pending() && !b.Frozen && b.LastTransition.Before(before) {
			stuck = append(stuck, cloneBinding(b))
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].LastTransition.Before(stuck[j].LastTransition)
	})
	return stuck, nil
}

func (m *Memory) List(_ context.Context) ([]model.TicketBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]model.TicketBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		list = append(list, cloneBinding(b))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func cloneBinding(b model.TicketBinding) model.TicketBinding {
	copied := b
	if b.Labels != nil {
		copied.Labels = make(map[string]string, len(b.Labels))
		for k, v := range b.Labels {
			copied.Labels[k] = v
		}
	}
	return copied
}
