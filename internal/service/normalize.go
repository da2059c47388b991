// 원시 알림 레코드 → 정규화된 AlertEvent 변환 (순수 함수, 부수효과 없음)
//
// 조건 키는 namespace:alertname 조합으로만 만든다
// 측정값이나 타임스탬프가 키에 섞이면 같은 조건의 반복 통지가
// 서로 다른 키로 해싱되어 중복 제거가 깨지기 때문

package service

import (
	"fmt"
	"strings"

	"github.com/kube-rca/snow-bridge/internal/model"
)

// NormalizeAlert - 웹훅 배치의 알림 한 건을 AlertEvent로 변환
// status가 인식 불가이거나 조건 키를 만들 수 없으면 검증 오류
func NormalizeAlert(alert model.Alert) (model.AlertEvent, error) {
	state := model.AlertState(alert.Status)
	switch state {
	case model.StateFiring, model.StateResolved:
	default:
		return model.AlertEvent{}, fmt.Errorf("unrecognized alert status: %q", alert.Status)
	}

	alertName := alert.Labels["alertname"]
	if alertName == "" {
		return model.AlertEvent{}, fmt.Errorf("alert has no alertname label, cannot derive condition key")
	}

	namespace := alert.Labels["namespace"]
	if namespace == "" {
		namespace = "default"
	}

	summary := alert.Annotations["summary"]
	if summary == "" {
		summary = alertName
	}

	// 설명은 티켓 본문으로 들어감: 상세 설명 + 네임스페이스 한 줄
	var descLines []string
	if desc := alert.Annotations["description"]; desc != "" {
		descLines = append(descLines, desc)
	}
	descLines = append(descLines, "Namespace: "+namespace)

	observedAt := alert.StartsAt
	if state == model.StateResolved && !alert.EndsAt.IsZero() {
		observedAt = alert.EndsAt
	}

	labels := make(map[string]string, len(alert.Labels))
	for k, v := range alert.Labels {
		labels[k] = v
	}

	return model.AlertEvent{
		ConditionKey: namespace + ":" + alertName,
		State:        state,
		Severity:     alert.Labels["severity"],
		Summary:      summary,
		Description:  strings.Join(descLines, "\n"),
		Namespace:    namespace,
		Labels:       labels,
		ObservedAt:   observedAt,
	}, nil
}
