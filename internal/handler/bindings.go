// 티켓 바인딩 운영 API 핸들러
// 조건별 라이프사이클 상태 조회와 동결 해제를 제공

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kube-rca/snow-bridge/internal/model"
)

// bindingReader - 바인딩 조회 인터페이스
type bindingReader interface {
	List(ctx context.Context) ([]model.TicketBinding, error)
	Get(ctx context.Context, conditionKey string) (*model.TicketBinding, error)
}

// bindingUnfreezer - 동결 해제 인터페이스
type bindingUnfreezer interface {
	Unfreeze(ctx context.Context, conditionKey string) (*model.TicketBinding, error)
}

// Binding 핸들러 구조체 정의
type BindingHandler struct {
	bindings   bindingReader
	reconciler bindingUnfreezer
}

func NewBindingHandler(bindings bindingReader, reconciler bindingUnfreezer) *BindingHandler {
	return &BindingHandler{
		bindings:   bindings,
		reconciler: reconciler,
	}
}

// GetBindings godoc
// @Summary List ticket bindings
// @Tags bindings
// @Produce json
// @Success 200 {object} model.BindingListResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/bindings [get]
func (h *BindingHandler) GetBindings(c *gin.Context) {
	list, err := h.bindings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Status: "error", Error: err.Error()})
		return
	}
	if list == nil {
		list = []model.TicketBinding{}
	}
	c.JSON(http.StatusOK, model.BindingListResponse{Status: "success", Data: list})
}

// GetBindingDetail godoc
// @Summary Get a ticket binding by condition key
// @Tags bindings
// @Produce json
// @Param key path string true "Condition key (namespace:alertname)"
// @Success 200 {object} model.BindingDetailResponse
// @Failure 404,500 {object} model.ErrorResponse
// @Router /api/v1/bindings/{key} [get]
func (h *BindingHandler) GetBindingDetail(c *gin.Context) {
	key := c.Param("key")

	binding, err := h.bindings.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Status: "error", Error: err.Error()})
		return
	}
	if binding == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Status: "error", Error: "no binding for condition key: " + key})
		return
	}
	c.JSON(http.StatusOK, model.BindingDetailResponse{Status: "success", Data: binding})
}

// UnfreezeBinding godoc
// @Summary Allow retries for a binding frozen by a permanent error
// @Tags bindings
// @Produce json
// @Param key path string true "Condition key (namespace:alertname)"
// @Success 200 {object} model.BindingDetailResponse
// @Failure 404,500 {object} model.ErrorResponse
// @Router /api/v1/bindings/{key}/unfreeze [post]
func (h *BindingHandler) UnfreezeBinding(c *gin.Context) {
	key := c.Param("key")

	binding, err := h.reconciler.Unfreeze(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Status: "error", Error: err.Error()})
		return
	}
	if binding == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Status: "error", Error: "no binding for condition key: " + key})
		return
	}
	c.JSON(http.StatusOK, model.BindingDetailResponse{Status: "success", Data: binding})
}
