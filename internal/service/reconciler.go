// 조건 → 티켓 상태머신 비즈니스 로직 정의
// 정규화된 알림 이벤트와 저장된 바인딩을 조합해 ServiceNow 호출을 결정
//
// 상태 전이:
//  1. firing + (none|resolved): pending_create로 CAS 후 티켓 생성, 성공 시 open
//  2. firing + (open|pending_*): 관측 시각만 갱신 (멱등 가드, 티켓 작업 없음)
//  3. resolved + open: pending_resolve로 CAS 후 티켓 해결, 성공 시 resolved
//  4. resolved + pending_resolve: 해결 호출 재시도 (frozen이면 스킵)
//  5. resolved + 티켓 참조를 보유한 pending_create: 재오픈 취소, resolved로 복귀
//  6. resolved + (none|resolved|티켓 없는 pending_create): 기록만 남기고 버림
//
// 모든 바인딩 변경은 저장소 CAS를 통과함
// CAS에서 지면 다른 워커가 이미 같은 전이를 처리한 것이므로 no-op

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kube-rca/snow-bridge/internal/client"
	"github.com/kube-rca/snow-bridge/internal/config"
	"github.com/kube-rca/snow-bridge/internal/metrics"
	"github.com/kube-rca/snow-bridge/internal/model"
	"github.com/kube-rca/snow-bridge/internal/store"
)

// ticketingClient - 티켓 API 인터페이스 (테스트에서 fake로 대체)
type ticketingClient interface {
	CreateIncident(ctx context.Context, req client.IncidentRequest) (*client.IncidentRef, error)
	ResolveIncident(ctx context.Context, sysID, note string) error
	ReopenIncident(ctx context.Context, sysID, note string) error
}

// ReconcilerService 구조체 정의
type ReconcilerService struct {
	bindings     store.BindingStore
	snow         ticketingClient
	reopenPolicy string
}

// ReconcilerService 객체 생성
func NewReconcilerService(bindings store.BindingStore, snow ticketingClient, reopenPolicy string) *ReconcilerService {
	return &ReconcilerService{
		bindings:     bindings,
		snow:         snow,
		reopenPolicy: reopenPolicy,
	}
}

// Process - 알림 이벤트 한 건을 상태머신에 적용
// 반환된 오류는 재시도 가능 실패를 의미하며, pending 상태로 남은 전이는
// 백그라운드 스윕이 이어받음
func (s *ReconcilerService) Process(ctx context.Context, event model.AlertEvent) error {
	metrics.EventsReceived.WithLabelValues(string(event.State)).Inc()

	binding, err := s.bindings.Get(ctx, event.ConditionKey)
	if err != nil {
		metrics.DownstreamFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("binding lookup failed (condition=%s): %w", event.ConditionKey, err)
	}

	current := model.LifecycleNone
	if binding != nil {
		current = binding.LifecycleState
	}

	switch event.State {
	case model.StateFiring:
		return s.processFiring(ctx, event, binding, current)
	case model.StateResolved:
		return s.processResolved(ctx, event, binding, current)
	default:
		return fmt.Errorf("unknown event state: %q", event.State)
	}
}

func (s *ReconcilerService) processFiring(ctx context.Context, event model.AlertEvent, binding *model.TicketBinding, current model.LifecycleState) error {
	switch current {
	case model.LifecycleNone, model.LifecycleResolved:
		pending := bindingFromEvent(event)
		if binding != nil && s.reopenPolicy == config.ReopenPolicyReopen {
			// reopen 정책: 이전 티켓 참조를 유지해서 생성 대신 재오픈하도록 함
			pending.ExternalTicketID = binding.ExternalTicketID
			pending.TicketNumber = binding.TicketNumber
		}

		ok, err := s.bindings.CompareAndSet(ctx, event.ConditionKey, current, pending)
		if err != nil {
			metrics.DownstreamFailures.WithLabelValues("store").Inc()
			return fmt.Errorf("failed to claim create transition (condition=%s): %w", event.ConditionKey, err)
		}
		if !ok {
			// 동시 도착한 이벤트가 먼저 전이를 잡음
			metrics.EventsStale.Inc()
			log.Printf("Discarding stale firing event, another worker claimed the transition (condition=%s)", event.ConditionKey)
			return nil
		}
		return s.driveCreate(ctx, pending)

	default:
		// 이미 열려 있거나 생성/해결이 진행 중: 관측 시각만 갱신
		log.Printf("Duplicate firing notification, ticket action already in place (condition=%s, state=%s)", event.ConditionKey, current)
		s.touch(ctx, event, binding)
		return nil
	}
}

func (s *ReconcilerService) processResolved(ctx context.Context, event model.AlertEvent, binding *model.TicketBinding, current model.LifecycleState) error {
	switch current {
	case model.LifecycleOpen:
		pending := *binding
		pending.LifecycleState = model.LifecyclePendingResolve
		pending.LastObservedAt = event.ObservedAt
		pending.LastTransition = time.Now().UTC()
		pending.LastError = ""

		ok, err := s.bindings.CompareAndSet(ctx, event.ConditionKey, model.LifecycleOpen, pending)
		if err != nil {
			metrics.DownstreamFailures.WithLabelValues("store").Inc()
			return fmt.Errorf("failed to claim resolve transition (condition=%s): %w", event.ConditionKey, err)
		}
		if !ok {
			metrics.EventsStale.Inc()
			log.Printf("Discarding stale resolved event, another worker claimed the transition (condition=%s)", event.ConditionKey)
			return nil
		}
		return s.driveResolve(ctx, pending)

	case model.LifecyclePendingResolve:
		if binding.Frozen {
			log.Printf("Resolve transition is frozen by a permanent error, skipping retry (condition=%s)", event.ConditionKey)
			s.touch(ctx, event, binding)
			return nil
		}
		// 해결 호출이 미완료인 채 resolved가 또 왔으면 그 자리에서 재시도
		retry := *binding
		retry.LastObservedAt = event.ObservedAt
		ok, err := s.bindings.CompareAndSet(ctx, event.ConditionKey, model.LifecyclePendingResolve, retry)
		if err != nil {
			metrics.DownstreamFailures.WithLabelValues("store").Inc()
			return fmt.Errorf("failed to record resolve retry (condition=%s): %w", event.ConditionKey, err)
		}
		if !ok {
			metrics.EventsStale.Inc()
			return nil
		}
		return s.driveResolve(ctx, retry)

	case model.LifecyclePendingCreate:
		if binding.ExternalTicketID == "" {
			// 생성 호출이 아직 진행/재시도 중이고 티켓도 없음: 기록 후 폐기
			metrics.EventsStale.Inc()
			log.Printf("Dropping resolved event, create still pending without a ticket (condition=%s)", event.ConditionKey)
			s.touch(ctx, event, binding)
			return nil
		}
		// reopen 정책으로 이전 티켓 참조를 들고 재오픈 대기 중:
		// 재오픈 전에 조건이 다시 해결됐으므로 전이를 취소해
		// 스윕이 이미 해결된 조건의 티켓을 다시 열지 않도록 함
		canceled := *binding
		canceled.LifecycleState = model.LifecycleResolved
		canceled.LastObservedAt = event.ObservedAt
		canceled.LastTransition = time.Now().UTC()
		canceled.LastError = ""
		canceled.Frozen = false

		ok, err := s.bindings.CompareAndSet(ctx, event.ConditionKey, model.LifecyclePendingCreate, canceled)
		if err != nil {
			metrics.DownstreamFailures.WithLabelValues("store").Inc()
			return fmt.Errorf("failed to cancel pending reopen (condition=%s): %w", event.ConditionKey, err)
		}
		if !ok {
			metrics.EventsStale.Inc()
			return nil
		}
		log.Printf("Canceled pending reopen, condition resolved before the ticket call (condition=%s, ticket=%s)",
			event.ConditionKey, binding.TicketNumber)
		return nil

	default:
		// 티켓이 열린 적 없거나 이미 해결됨: 오류가 아니라 기록 후 폐기
		metrics.EventsStale.Inc()
		log.Printf("Dropping resolved event with no open ticket (condition=%s, state=%s)", event.ConditionKey, current)
		s.touch(ctx, event, binding)
		return nil
	}
}

// RetryPending - 유예기간을 넘긴 pending 바인딩의 전이를 다시 시도 (스윕 전용 진입점)
// 스윕과 신규 이벤트가 같은 조건에서 경쟁해도 CAS가 한쪽만 통과시킴
func (s *ReconcilerService) RetryPending(ctx context.Context, binding model.TicketBinding) error {
	switch binding.LifecycleState {
	case model.LifecyclePendingCreate:
		return s.driveCreate(ctx, binding)
	case model.LifecyclePendingResolve:
		return s.driveResolve(ctx, binding)
	default:
		return nil
	}
}

// Unfreeze - 영구 오류로 동결된 전이의 재시도를 허용 (운영 API 전용)
func (s *ReconcilerService) Unfreeze(ctx context.Context, conditionKey string) (*model.TicketBinding, error) {
	binding, err := s.bindings.Get(ctx, conditionKey)
	if err != nil {
		return nil, fmt.Errorf("binding lookup failed (condition=%s): %w", conditionKey, err)
	}
	if binding == nil {
		return nil, nil
	}
	if !binding.Frozen {
		return binding, nil
	}

	thawed := *binding
	thawed.Frozen = false
	thawed.LastError = ""
	ok, err := s.bindings.CompareAndSet(ctx, conditionKey, binding.LifecycleState, thawed)
	if err != nil {
		return nil, fmt.Errorf("failed to unfreeze binding (condition=%s): %w", conditionKey, err)
	}
	if !ok {
		// 동결 해제 중에 상태가 바뀌었으면 그대로 둠
		return binding, nil
	}
	log.Printf("Unfroze binding for retry (condition=%s, state=%s)", conditionKey, thawed.LifecycleState)
	return &thawed, nil
}

// driveCreate - pending_create 바인딩에 대해 티켓 생성(또는 재오픈)을 수행
func (s *ReconcilerService) driveCreate(ctx context.Context, binding model.TicketBinding) error {
	var ref *client.IncidentRef
	var err error

	if s.reopenPolicy == config.ReopenPolicyReopen && binding.ExternalTicketID != "" {
		err = s.snow.ReopenIncident(ctx, binding.ExternalTicketID, "Alert condition firing again: "+binding.Summary)
		if err == nil {
			ref = &client.IncidentRef{SysID: binding.ExternalTicketID, Number: binding.TicketNumber}
		}
	} else {
		ref, err = s.snow.CreateIncident(ctx, client.IncidentRequest{
			Summary:       binding.Summary,
			Description:   binding.Description,
			Severity:      binding.Severity,
			CorrelationID: binding.ConditionKey,
		})
	}
	if err != nil {
		return s.recordFailure(ctx, binding, err)
	}

	open := binding
	open.LifecycleState = model.LifecycleOpen
	open.ExternalTicketID = ref.SysID
	open.TicketNumber = ref.Number
	open.LastError = ""
	open.Frozen = false
	open.LastTransition = time.Now().UTC()

	ok, err := s.bindings.CompareAndSet(ctx, binding.ConditionKey, model.LifecyclePendingCreate, open)
	if err != nil {
		metrics.DownstreamFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("failed to record open ticket (condition=%s, ticket=%s): %w", binding.ConditionKey, ref.Number, err)
	}
	if !ok {
		// 생성 직후 다른 경로가 바인딩을 바꿈: 티켓은 correlation_id 멱등성으로 보호됨
		log.Printf("Lost CAS after ticket create, concurrent transition won (condition=%s, ticket=%s)", binding.ConditionKey, ref.Number)
		return nil
	}

	metrics.TicketsCreated.Inc()
	log.Printf("Ticket opened (condition=%s, sys_id=%s, number=%s)", binding.ConditionKey, ref.SysID, ref.Number)
	return nil
}

// driveResolve - pending_resolve 바인딩에 대해 티켓 해결을 수행
func (s *ReconcilerService) driveResolve(ctx context.Context, binding model.TicketBinding) error {
	note := fmt.Sprintf("Alert condition %s resolved at %s", binding.ConditionKey, binding.LastObservedAt.UTC().Format(time.RFC3339))

	if binding.ExternalTicketID != "" {
		if err := s.snow.ResolveIncident(ctx, binding.ExternalTicketID, note); err != nil {
			return s.recordFailure(ctx, binding, err)
		}
	}

	resolved := binding
	resolved.LifecycleState = model.LifecycleResolved
	resolved.LastError = ""
	resolved.Frozen = false
	resolved.LastTransition = time.Now().UTC()

	ok, err := s.bindings.CompareAndSet(ctx, binding.ConditionKey, model.LifecyclePendingResolve, resolved)
	if err != nil {
		metrics.DownstreamFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("failed to record resolved ticket (condition=%s): %w", binding.ConditionKey, err)
	}
	if !ok {
		log.Printf("Lost CAS after ticket resolve, concurrent transition won (condition=%s)", binding.ConditionKey)
		return nil
	}

	metrics.TicketsResolved.Inc()
	log.Printf("Ticket resolved (condition=%s, sys_id=%s, number=%s)", binding.ConditionKey, binding.ExternalTicketID, binding.TicketNumber)
	return nil
}

// recordFailure - 다운스트림 호출 실패를 바인딩에 기록
// 일시 오류는 pending 상태 그대로 스윕 재시도 대상으로 남고,
// 영구 오류는 frozen으로 표시되어 운영자 개입 전까지 재시도되지 않음
func (s *ReconcilerService) recordFailure(ctx context.Context, binding model.TicketBinding, cause error) error {
	permanent := errors.Is(cause, client.ErrPermanent)

	failed := binding
	failed.LastError = cause.Error()
	failed.Frozen = permanent

	kind := "transient"
	if permanent {
		kind = "permanent"
		log.Printf("Permanent ticketing failure, freezing transition for operator attention (condition=%s, state=%s): %v",
			binding.ConditionKey, binding.LifecycleState, cause)
	} else {
		log.Printf("Transient ticketing failure, transition left pending for retry sweep (condition=%s, state=%s): %v",
			binding.ConditionKey, binding.LifecycleState, cause)
	}
	metrics.DownstreamFailures.WithLabelValues(kind).Inc()

	if ok, err := s.bindings.CompareAndSet(ctx, binding.ConditionKey, binding.LifecycleState, failed); err != nil {
		log.Printf("Failed to record ticketing error on binding (condition=%s): %v", binding.ConditionKey, err)
	} else if !ok {
		log.Printf("Binding changed while recording ticketing error, skipping (condition=%s)", binding.ConditionKey)
	}

	return fmt.Errorf("ticketing call failed (condition=%s, state=%s): %w", binding.ConditionKey, binding.LifecycleState, cause)
}

// touch - 관측 시각만 갱신 (CAS에서 져도 무시, 누군가 더 새로운 내용을 썼다는 뜻)
func (s *ReconcilerService) touch(ctx context.Context, event model.AlertEvent, binding *model.TicketBinding) {
	if binding == nil {
		return
	}
	touched := *binding
	touched.LastObservedAt = event.ObservedAt
	if _, err := s.bindings.CompareAndSet(ctx, event.ConditionKey, binding.LifecycleState, touched); err != nil {
		log.Printf("Failed to record observation time (condition=%s): %v", event.ConditionKey, err)
	}
}

func bindingFromEvent(event model.AlertEvent) model.TicketBinding {
	return model.TicketBinding{
		ConditionKey:   event.ConditionKey,
		LifecycleState: model.LifecyclePendingCreate,
		Severity:       event.Severity,
		Summary:        event.Summary,
		Description:    event.Description,
		Namespace:      event.Namespace,
		Labels:         event.Labels,
		LastObservedAt: event.ObservedAt,
		LastTransition: time.Now().UTC(),
	}
}
