// Alertmanager 웹훅 요청을 처리하는 핸들러
//
// 요청 흐름:
//  1. Alertmanager가 POST /webhook/alertmanager로 알림 배치 전송
//  2. JSON 페이로드를 AlertmanagerWebhook 구조체로 파싱
//  3. 배치 전체를 먼저 검증/정규화 (한 건이라도 불량이면 배치 통째로 400)
//  4. 즉시 200 응답 후 알림별 고루틴에서 Reconciler 호출
//
// 응답은 티켓 API 완료를 기다리지 않음: ServiceNow 장애가
// Alertmanager 쪽 재전송 폭주로 번지지 않도록 수신 확인과 처리를 분리

package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kube-rca/snow-bridge/internal/model"
	"github.com/kube-rca/snow-bridge/internal/service"
)

// alertReconciler - 상태머신 인터페이스 (테스트에서 fake로 대체)
type alertReconciler interface {
	Process(ctx context.Context, event model.AlertEvent) error
}

// Alert 핸들러 구조체 정의
type AlertHandler struct {
	reconciler   alertReconciler
	eventTimeout time.Duration
}

// Alert 핸들러 객체 생성
func NewAlertHandler(reconciler alertReconciler, eventTimeout time.Duration) *AlertHandler {
	return &AlertHandler{
		reconciler:   reconciler,
		eventTimeout: eventTimeout,
	}
}

// Webhook godoc
// @Summary Receive an Alertmanager webhook batch
// @Tags webhook
// @Accept json
// @Produce json
// @Param request body model.AlertmanagerWebhook true "Alertmanager webhook payload"
// @Success 200 {object} model.WebhookAckResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /webhook/alertmanager [post]
func (h *AlertHandler) Webhook(c *gin.Context) {
	var webhook model.AlertmanagerWebhook

	// 1. JSON 페이로드 파싱
	if err := c.ShouldBindJSON(&webhook); err != nil {
		log.Printf("Failed to parse webhook: %v", err)
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Error: "invalid payload"})
		return
	}

	// 2. 배치 전체 검증/정규화
	// 일부만 처리하고 일부만 거부하는 부분 수용은 하지 않음
	events := make([]model.AlertEvent, 0, len(webhook.Alerts))
	for i, alert := range webhook.Alerts {
		event, err := service.NormalizeAlert(alert)
		if err != nil {
			log.Printf("Rejecting webhook batch, alert %d is malformed: %v", i, err)
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Error: err.Error()})
			return
		}
		events = append(events, event)
	}

	deliveryID := uuid.NewString()
	log.Printf("Received alert webhook (delivery=%s, status=%s, alertCount=%d, receiver=%s)",
		deliveryID, webhook.Status, len(events), webhook.Receiver)

	// 3. 알림별로 독립 고루틴에서 처리
	// 느리거나 실패하는 알림 한 건이 나머지 알림을 막지 않음
	for _, event := range events {
		go h.process(deliveryID, event)
	}

	c.JSON(http.StatusOK, model.WebhookAckResponse{
		Status:     "accepted",
		AlertCount: len(events),
		DeliveryID: deliveryID,
	})
}

func (h *AlertHandler) process(deliveryID string, event model.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()

	if err := h.reconciler.Process(ctx, event); err != nil {
		// pending으로 남은 전이는 백그라운드 스윕이 이어받음
		log.Printf("Alert processing failed (delivery=%s, condition=%s, state=%s): %v",
			deliveryID, event.ConditionKey, event.State, err)
	}
}
