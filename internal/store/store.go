// 바인딩 저장소 계약 정의
//
// compare-and-set이 이 시스템의 유일한 변경 수단임:
// 같은 조건에 대한 동시 처리 중 정확히 하나만 전이를 적용할 수 있고,
// 진 쪽은 다시 읽어서 no-op 하거나 재시도함

package store

import (
	"context"
	"time"

	"github.com/kube-rca/snow-bridge/internal/model"
)

// BindingStore - 조건 키 → 티켓 바인딩 저장소 인터페이스
// memory 구현(단일 인스턴스)과 db.Postgres 구현(다중 인스턴스)이 있음
type BindingStore interface {
	// Get - 바인딩 조회, 없으면 (nil, nil)
	Get(ctx context.Context, conditionKey string) (*model.TicketBinding, error)

	// CompareAndSet - 저장된 상태가 expected와 일치할 때만 binding을 기록
	// expected가 LifecycleNone이면 "레코드 없음"이 기대 조건 (신규 생성)
	// 적용 성공 여부를 반환하며, false는 오류가 아니라 경쟁에서 진 것
	CompareAndSet(ctx context.Context, conditionKey string, expected model.LifecycleState, binding model.TicketBinding) (bool, error)

	// ListStuck - before 이전에 전이를 시작한 채 pending에 머물러 있고
	// frozen이 아닌 바인딩 목록 (백그라운드 스윕 대상)
	ListStuck(ctx context.Context, before time.Time) ([]model.TicketBinding, error)

	// List - 전체 바인딩 목록 (운영 API용)
	List(ctx context.Context) ([]model.TicketBinding, error)
}
