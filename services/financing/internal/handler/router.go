package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// NewRouter 할부 서비스 라우터 구성
//
// 제공자 콜백은 Bearer 토큰 없이 들어오므로 인증 그룹 밖에 둔다.
func NewRouter(h *Handler, auth *Authenticator, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("financing-service"))
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware())
	r.Use(MaxBodyMiddleware(maxRequestBody))

	r.GET("/health", h.Health)
	r.GET("/metrics", PrometheusHandler())
	r.POST("/api/payments/callback", h.Callback)

	api := r.Group("/api", auth.Middleware())
	{
		applications := api.Group("/applications")
		applications.POST("", h.Apply)
		applications.GET("", h.ListApplications)
		applications.GET("/mine", h.MyApplications)
		applications.PATCH("/:id/status", h.DecideApplication)
		applications.DELETE("/:id", h.RemoveApplication)

		laptops := api.Group("/laptops")
		laptops.GET("", h.ListLaptops)
		laptops.POST("", h.CreateLaptop)
		laptops.GET("/:id", h.GetLaptop)

		api.GET("/admin/summary", h.Summary)

		payments := api.Group("/payments")
		payments.POST("", h.InitiatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/status", h.PaymentStatus)
		payments.GET("/mine", h.MyPayments)
		payments.POST("/:checkoutId/cancel", h.CancelPayment)
	}

	return r
}
