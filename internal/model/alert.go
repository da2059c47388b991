// Alertmanager 웹훅 페이로드 및 개별 알림 구조체 정의
// handler, service 레이어에서 공통으로 사용하기 때문에 model 레이어에 정의

package model

import "time"

// Alertmanager가 보내는 알림 상태 값
type AlertState string

const (
	StateFiring   AlertState = "firing"
	StateResolved AlertState = "resolved"
)

// AlertmanagerWebhook - Alertmanager 웹훅 페이로드
// 여러 개의 알림이 그룹으로 묶여서 한 요청으로 전송됨
type AlertmanagerWebhook struct {
	Version string `json:"version"`

	// 동일한 GroupKey를 가진 알림들은 함께 그룹핑됨
	GroupKey string `json:"groupKey"`

	// max_alerts 설정으로 잘려나간 알림 개수
	TruncatedAlerts int    `json:"truncatedAlerts"`
	Status          string `json:"status"`
	Receiver        string `json:"receiver"`

	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`

	// 개별 알림 리스트
	Alerts []Alert `json:"alerts"`
}

// Alert - 웹훅 배치에 포함된 개별 알림 (원시 레코드)
// 라벨 조합이 알림 조건의 정체성을 결정함
type Alert struct {
	Status string `json:"status"`

	// - alertname: 알림 규칙 이름 (예: "KubePodCrashLooping")
	// - severity: 심각도 (critical, warning, info)
	// - namespace: 문제 발생 네임스페이스
	Labels map[string]string `json:"labels"`

	// - summary: 알림 요약 (티켓 제목으로 사용)
	// - description: 알림 상세 설명 (티켓 본문으로 사용)
	Annotations map[string]string `json:"annotations"`

	// StartsAt: 알림 발생 시각 (UTC)
	StartsAt time.Time `json:"startsAt"`

	// EndsAt: 알림 종료 시각, resolved 상태일 때만 유효
	EndsAt time.Time `json:"endsAt"`

	GeneratorURL string `json:"generatorURL"`

	// Fingerprint: Alertmanager가 라벨 조합으로 생성하는 해시값
	Fingerprint string `json:"fingerprint"`
}

// AlertEvent - 정규화된 알림 이벤트
// 같은 ConditionKey + 같은 State 조합은 동일 사실의 중복 통지이며
// 부수효과를 다시 일으키면 안 됨
type AlertEvent struct {
	// ConditionKey: 조건 식별자 (namespace:alertname)
	// 측정값/타임스탬프 같은 휘발성 정보는 절대 포함하지 않음
	ConditionKey string `json:"condition_key"`

	State       AlertState        `json:"state"`
	Severity    string            `json:"severity"`
	Summary     string            `json:"summary"`
	Description string            `json:"description"`
	Namespace   string            `json:"namespace"`
	Labels      map[string]string `json:"labels"`

	// ObservedAt: 이 통지가 가리키는 시각 (firing은 StartsAt, resolved는 EndsAt)
	ObservedAt time.Time `json:"observed_at"`
}
