package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/sirupsen/logrus"
)

func (h *Handler) listPayments(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	payments, err := models.ListPaymentsForContract(c.Request.Context(), id, actorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) fundEscrow(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	p, err := models.FundEscrowFromBalance(c.Request.Context(), id, actorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type checkoutInput struct {
	Provider models.PaymentProvider `json:"provider" validate:"required"`
}

func (h *Handler) startCheckout(c *gin.Context) {
	var in checkoutInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	p, err := models.StartEscrowCheckout(c.Request.Context(), id, actorID(c), in.Provider)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type checkoutReturnInput struct {
	CaptureID string `json:"capture_id" validate:"required,max=255"`
}

func (h *Handler) checkoutReturned(c *gin.Context) {
	var in checkoutReturnInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	p, err := models.MarkCheckoutReturned(c.Request.Context(), h.Gateway, id, actorID(c), in.CaptureID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) releaseEscrow(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	p, err := models.ReleaseEscrow(c.Request.Context(), id, actorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// gatewayWebhook applies capture callbacks from the payments bridge.
func (h *Handler) gatewayWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(malformedRequestError{err: err})
		return
	}
	res, err := h.Verifier.Verify(c.Request.Header, raw)
	if err != nil {
		c.Error(fmt.Errorf("verify gateway webhook: %w", err))
		return
	}
	if !res.Valid {
		config.GetLogger().WithFields(logrus.Fields{
			"field":      "GatewayWebhook",
			"event_id":   res.ProviderEventID,
			"event_type": res.EventType,
			"details":    res.Details,
		}).Warn("rejected gateway webhook with an invalid signature")
		c.JSON(http.StatusUnauthorized, ErrorBody{Code: "webhook.invalid_signature", Message: "invalid signature"})
		return
	}

	ev, err := gateway.ParseCaptureEvent(raw)
	if err != nil {
		c.Error(malformedRequestError{err: err})
		return
	}
	outcome := ev.Outcome()
	if outcome == gateway.CapturePending {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}
	p, err := models.ApplyCaptureEvent(c.Request.Context(), ev.CaptureID, outcome)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type quoteQuery struct {
	Price string `form:"price"`
}

func (h *Handler) quoteCommission(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(malformedRequestError{err: err})
		return
	}
	price, err := config.ParseAmount(q.Price)
	if err != nil {
		c.Error(models.ErrValidation.WithMessage("price: %v", err))
		return
	}
	quote, err := models.QuoteCommission(c.Request.Context(), actorID(c), price)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type replayInput struct {
	IDs []int `json:"ids" validate:"omitempty,dive,gt=0"`
}

func (h *Handler) outboxSummary(c *gin.Context) {
	rows, err := models.GetOutboxSummary(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": rows})
}

func (h *Handler) replayOutbox(c *gin.Context) {
	var in replayInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	n, err := models.ReplayDeadOutbox(c.Request.Context(), in.IDs)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}
