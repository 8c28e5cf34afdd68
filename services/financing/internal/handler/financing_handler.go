package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/services/financing/internal/provider"
	"github.com/kyungseok/laptop-financing/services/financing/internal/service"
)

// maxCallbackBody 제공자 콜백 본문 상한
const maxCallbackBody = 64 << 10

// Handler 할부 서비스 HTTP 핸들러
type Handler struct {
	applications service.ApplicationService
	payments     service.PaymentService
	inventory    service.InventoryService
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewHandler 핸들러 생성
func NewHandler(
	applications service.ApplicationService,
	payments service.PaymentService,
	inventory service.InventoryService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		applications: applications,
		payments:     payments,
		inventory:    inventory,
		validate:     validator.New(),
		logger:       logger,
	}
}

// bind JSON 디코딩과 구조체 검증. 실패 시 400을 쓰고 false 반환
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.badRequest(c, "invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(c, err.Error())
		return false
	}
	return true
}

// Apply POST /api/applications
func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if !h.bind(c, &req) {
		return
	}

	app, err := h.applications.Apply(c.Request.Context(), principalFrom(c), req.LaptopID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toApplicationResponse(app))
}

// ListApplications GET /api/applications?status=
func (h *Handler) ListApplications(c *gin.Context) {
	views, err := h.applications.List(c.Request.Context(), principalFrom(c), c.Query("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationViewResponses(views))
}

// MyApplications GET /api/applications/mine
func (h *Handler) MyApplications(c *gin.Context) {
	views, err := h.applications.ListForStudent(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationViewResponses(views))
}

// DecideApplication PATCH /api/applications/:id/status
func (h *Handler) DecideApplication(c *gin.Context) {
	var req DecisionRequest
	if !h.bind(c, &req) {
		return
	}

	view, err := h.applications.Decide(c.Request.Context(), principalFrom(c), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationViewResponse(view))
}

// RemoveApplication DELETE /api/applications/:id
func (h *Handler) RemoveApplication(c *gin.Context) {
	if err := h.applications.Remove(c.Request.Context(), principalFrom(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListLaptops GET /api/laptops
func (h *Handler) ListLaptops(c *gin.Context) {
	laptops, err := h.inventory.ListAvailable(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]laptopResponse, 0, len(laptops))
	for _, l := range laptops {
		out = append(out, toLaptopResponse(l))
	}
	c.JSON(http.StatusOK, out)
}

// GetLaptop GET /api/laptops/:id
func (h *Handler) GetLaptop(c *gin.Context) {
	laptop, err := h.inventory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLaptopResponse(laptop))
}

// CreateLaptop POST /api/laptops
func (h *Handler) CreateLaptop(c *gin.Context) {
	var req CreateLaptopRequest
	if !h.bind(c, &req) {
		return
	}

	laptop, err := h.inventory.Create(c.Request.Context(), principalFrom(c), service.CreateLaptopCommand{
		Model:            req.Model,
		Brand:            req.Brand,
		Size:             req.Size,
		SubscriptionType: req.SubscriptionType,
		Features:         req.Features,
		Price:            req.Price,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toLaptopResponse(laptop))
}

// Summary GET /api/admin/summary
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.inventory.Summary(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// InitiatePayment POST /api/payments
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), principalFrom(c), service.InitiatePaymentCommand{
		LaptopID:    req.LaptopID,
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, InitiatePaymentResponse{
		Success:              true,
		CheckoutRequestID:    result.Payment.CheckoutID,
		CustomerMessage:      result.CustomerMessage,
		RemainingBalance:     result.Payment.RemainingAfter.Round(2),
		SuggestedInstallment: result.SuggestedInstallment,
	})
}

// PaymentStatus GET /api/payments/status
func (h *Handler) PaymentStatus(c *gin.Context) {
	status, err := h.payments.CurrentStatus(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// MyPayments GET /api/payments/mine
func (h *Handler) MyPayments(c *gin.Context) {
	views, err := h.payments.ListForStudent(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentViewResponses(views))
}

// ListPayments GET /api/payments
func (h *Handler) ListPayments(c *gin.Context) {
	views, err := h.payments.ListAll(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentViewResponses(views))
}

// CancelPayment POST /api/payments/:checkoutId/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	payment, err := h.payments.Cancel(c.Request.Context(), principalFrom(c), c.Param("checkoutId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// Callback POST /api/payments/callback
//
// 제공자는 2xx가 아니면 같은 콜백을 재전송한다. 해석할 수 없는 본문은 재전송해도
// 달라지지 않으므로 기록만 하고 수락 응답을 보낸다. 저장소 장애일 때만 5xx로 재전송을 유도한다.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("failed to read payment callback body", zap.Error(err))
		c.JSON(http.StatusOK, acceptedAck)
		return
	}

	cb, err := provider.ParseCallback(body)
	if err != nil {
		h.logger.Warn("ignoring malformed payment callback",
			zap.ByteString("body", body),
			zap.Error(err))
		c.JSON(http.StatusOK, acceptedAck)
		return
	}

	_, err = h.payments.Reconcile(c.Request.Context(), service.CallbackResult{
		CheckoutID:    cb.CheckoutRequestID,
		ResultCode:    cb.Code(),
		ResultDesc:    cb.ResultDesc,
		ReceiptNumber: cb.ReceiptNumber(),
	})
	if err != nil {
		if errors.IsRetryable(err) {
			h.logger.Error("payment callback could not be stored",
				zap.String("checkoutId", cb.CheckoutRequestID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, callbackAck{ResultCode: 1, ResultDesc: "Retry"})
			return
		}
		h.logger.Warn("payment callback rejected",
			zap.String("checkoutId", cb.CheckoutRequestID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, acceptedAck)
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "financing-service"})
}
