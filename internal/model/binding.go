// 조건 ↔ ServiceNow 티켓 라이프사이클 바인딩 정의
// 바인딩의 모든 변경은 저장소의 compare-and-set을 통해서만 이루어짐

package model

import "time"

// LifecycleState - 조건별 티켓 라이프사이클 상태
// 상태 전이: none → pending_create → open → pending_resolve → resolved
// resolved에서 재발화하면 다시 pending_create로 돌아감
type LifecycleState string

const (
	// LifecycleNone: 바인딩 없음 (저장소에 레코드가 없는 상태)
	LifecycleNone LifecycleState = ""

	// LifecyclePendingCreate: 티켓 생성 호출 진행 중 또는 실패 후 재시도 대기
	LifecyclePendingCreate LifecycleState = "pending_create"

	// LifecycleOpen: ServiceNow 티켓이 열려 있음
	LifecycleOpen LifecycleState = "open"

	// LifecyclePendingResolve: 티켓 해결 호출 진행 중 또는 실패 후 재시도 대기
	LifecyclePendingResolve LifecycleState = "pending_resolve"

	// LifecycleResolved: 티켓 해결 완료, 재발화 대비로 레코드는 유지
	LifecycleResolved LifecycleState = "resolved"
)

// Pending - 생성/해결 호출이 미완료인 상태인지 (스윕 대상 판별)
func (s LifecycleState) Pending() bool {
	return s == LifecyclePendingCreate || s == LifecyclePendingResolve
}

// TicketBinding - 조건 하나의 티켓 바인딩 레코드
// 불변식: 한 ConditionKey에 동시에 열려 있는 티켓은 최대 1개
type TicketBinding struct {
	// ConditionKey: 유니크 키 (namespace:alertname)
	ConditionKey string `json:"condition_key"`

	// ExternalTicketID: ServiceNow sys_id, 생성 성공 전까지 빈 값
	ExternalTicketID string `json:"external_ticket_id,omitempty"`

	// TicketNumber: 운영자가 보는 INC 번호
	TicketNumber string `json:"ticket_number,omitempty"`

	LifecycleState LifecycleState `json:"lifecycle_state"`

	// 이벤트 스냅샷: 스윕이 원본 이벤트 없이도 생성 호출을 재시도할 수 있도록 보관
	Severity    string            `json:"severity,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Description string            `json:"description,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`

	// LastObservedAt: 이 조건에 대한 마지막 알림 수신 시각 (중복 통지여도 갱신)
	LastObservedAt time.Time `json:"last_observed_at"`

	// LastTransition: 마지막 상태 전이 시각, 스윕의 유예기간 판정 기준
	LastTransition time.Time `json:"last_transition"`

	// LastError: 마지막 다운스트림 호출 실패 내용
	LastError string `json:"last_error,omitempty"`

	// Frozen: 영구 오류(401 등)로 자동 재시도를 중단한 상태
	// 운영자가 unfreeze API를 호출할 때까지 유지됨
	Frozen bool `json:"frozen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
