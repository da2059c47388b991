// 백그라운드 재시도 스윕 정의
// 다운스트림 장애로 pending_create/pending_resolve에 갇힌 바인딩을
// 주기적으로 찾아 전이를 다시 시도함
//
// 스윕도 Reconciler와 같은 CAS 규율을 쓰므로
// 동시에 도착한 신규 알림 이벤트와 경쟁해도 중복 동작이 생기지 않음

package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kube-rca/snow-bridge/internal/metrics"
	"github.com/kube-rca/snow-bridge/internal/store"
)

// SweeperService 구조체 정의
type SweeperService struct {
	bindings   store.BindingStore
	reconciler *ReconcilerService
	cron       *cron.Cron
	interval   time.Duration
	grace      time.Duration

	// running: 스윕 1회 실행 중복 방지 (이전 스윕이 길어지면 다음 틱은 스킵)
	running atomic.Bool
}

// SweeperService 객체 생성
func NewSweeperService(bindings store.BindingStore, reconciler *ReconcilerService, interval, grace time.Duration) *SweeperService {
	return &SweeperService{
		bindings:   bindings,
		reconciler: reconciler,
		cron:       cron.New(),
		interval:   interval,
		grace:      grace,
	}
}

// Start - 주기 스윕 등록 및 시작
func (s *SweeperService) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to register sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Printf("Retry sweep started (interval=%s, grace=%s)", s.interval, s.grace)
	return nil
}

// Stop - 스윕 중지 (진행 중인 실행은 끝까지 수행됨)
func (s *SweeperService) Stop() {
	s.cron.Stop()
}

func (s *SweeperService) runSweep() {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("Previous retry sweep still running, skipping this tick")
		return
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	s.Sweep(ctx)
}

// Sweep - 유예기간을 넘긴 pending 바인딩의 전이를 재시도 (1회 실행)
// 재시도된 바인딩 수를 반환
func (s *SweeperService) Sweep(ctx context.Context) int {
	stuck, err := s.bindings.ListStuck(ctx, time.Now().UTC().Add(-s.grace))
	if err != nil {
		metrics.DownstreamFailures.WithLabelValues("store").Inc()
		log.Printf("Retry sweep failed to list stuck bindings: %v", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	log.Printf("Retry sweep found %d stuck binding(s)", len(stuck))

	retried := 0
	for _, binding := range stuck {
		if ctx.Err() != nil {
			log.Printf("Retry sweep interrupted: %v", ctx.Err())
			break
		}

		metrics.SweepRetries.Inc()
		retried++
		if err := s.reconciler.RetryPending(ctx, binding); err != nil {
			// 실패한 바인딩은 pending으로 남아 다음 스윕에서 다시 시도됨
			log.Printf("Retry sweep attempt failed (condition=%s, state=%s): %v", binding.ConditionKey, binding.LifecycleState, err)
		}
	}
	return retried
}
