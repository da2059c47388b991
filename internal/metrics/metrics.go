// 브릿지 운영 지표 정의
// 영구 오류로 동결된 전이는 재시도되지 않으므로 운영자가 지표로 확인해야 함

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 수신한 알림 이벤트 수 (state: firing|resolved)
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snow_bridge_alert_events_total",
		Help: "Normalized alert events accepted for reconciliation.",
	}, []string{"state"})

	// 현재 상태와 맞지 않아 버린 이벤트 수 (오류 아님)
	EventsStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_bridge_stale_events_total",
		Help: "Alert events discarded because they did not match the stored lifecycle state.",
	})

	TicketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_bridge_tickets_created_total",
		Help: "ServiceNow incidents created or reopened by the bridge.",
	})

	TicketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_bridge_tickets_resolved_total",
		Help: "ServiceNow incidents resolved by the bridge.",
	})

	// 다운스트림 실패 수 (kind: transient|permanent|store)
	DownstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snow_bridge_downstream_failures_total",
		Help: "Failed store or ticketing operations by failure class.",
	}, []string{"kind"})

	// 백그라운드 스윕이 재시도한 전이 수
	SweepRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_bridge_sweep_retries_total",
		Help: "Stuck pending transitions re-attempted by the background sweep.",
	})
)
