// 운영 API 응답 포맷 정의

package model

type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type BindingListResponse struct {
	Status string          `json:"status"`
	Data   []TicketBinding `json:"data"`
}

type BindingDetailResponse struct {
	Status string         `json:"status"`
	Data   *TicketBinding `json:"data"`
}

type WebhookAckResponse struct {
	Status     string `json:"status"`
	AlertCount int    `json:"alertCount"`
	DeliveryID string `json:"deliveryId"`
}
