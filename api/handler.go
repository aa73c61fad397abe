package api

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/middlewares"
	"github.com/mmdatafocus/contracts_backend/utils"
)

// Handler serves the contract API over gin.
type Handler struct {
	Gateway  gateway.Client
	Verifier *gateway.Verifier
	validate *validator.Validate
}

func NewHandler(gw gateway.Client, verifier *gateway.Verifier) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Gateway: gw, Verifier: verifier, validate: v}
}

// RouterOptions carries the deployment-specific middlewares. BeforeAuth
// runs ahead of token parsing (CORS); AfterAuth sees the caller (rate limits).
type RouterOptions struct {
	BeforeAuth []gin.HandlerFunc
	AfterAuth  []gin.HandlerFunc
}

// NewRouter builds the engine with the request middlewares and every route.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(opts.BeforeAuth...)
	r.Use(middlewares.AuthMiddleware())
	r.Use(opts.AfterAuth...)
	r.Use(middlewares.LoaderMiddleware())
	r.Use(ErrorMiddleware())
	h.Register(r)
	return r
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(204) })
	r.POST("/webhooks/gateway", h.gatewayWebhook)

	v1 := r.Group("/api/v1", middlewares.RequireUser())
	v1.GET("/commission/quote", h.quoteCommission)

	contracts := v1.Group("/contracts")
	contracts.GET("", h.listContracts)
	contracts.POST("", h.createContract)
	contracts.GET("/:id", h.getContract)
	contracts.POST("/:id/accept", h.acceptContract)
	contracts.POST("/:id/pairing-code", h.generatePairingCode)
	contracts.POST("/:id/pairing/confirm", h.confirmPairing)
	contracts.POST("/:id/complete", h.confirmCompletion)
	contracts.POST("/:id/cancel", h.cancelContract)

	contracts.POST("/:id/extension", h.requestExtension)
	contracts.POST("/:id/extension/approve", h.approveExtension)
	contracts.POST("/:id/extension/reject", h.rejectExtension)

	contracts.PUT("/:id/price", h.modifyPendingPrice)
	contracts.POST("/:id/price-change", h.requestPriceChange)
	contracts.POST("/:id/price-change/approve", h.approvePriceChange)
	contracts.POST("/:id/price-change/reject", h.rejectPriceChange)

	contracts.POST("/:id/task-claim", h.raiseTaskClaim)
	contracts.POST("/:id/task-claim/respond", h.respondTaskClaim)
	contracts.POST("/:id/disputes", h.openDispute)

	contracts.GET("/:id/payments", h.listPayments)
	contracts.POST("/:id/escrow/fund", h.fundEscrow)
	contracts.POST("/:id/escrow/checkout", h.startCheckout)

	payments := v1.Group("/payments")
	payments.POST("/:id/return", h.checkoutReturned)
	payments.POST("/:id/release", h.releaseEscrow)

	ops := v1.Group("/ops", middlewares.RequireRole(utils.RoleOperator))
	ops.GET("/outbox/summary", h.outboxSummary)
	ops.POST("/outbox/replay", h.replayOutbox)
}

func actorID(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}

func pathID(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, malformedRequestError{err: fmt.Errorf("invalid id %q", c.Param("id"))}
	}
	return id, nil
}

// bind decodes the JSON body into in and validates it. An empty body is
// allowed for requests whose fields are all optional.
func (h *Handler) bind(c *gin.Context, in any) error {
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(in); err != nil {
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				return err
			}
			return malformedRequestError{err: fmt.Errorf("invalid request body: %w", err)}
		}
	}
	return h.validate.Struct(in)
}
