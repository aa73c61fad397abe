package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/contracts_backend/middlewares"
	"github.com/mmdatafocus/contracts_backend/models"
)

// ContractView is a contract with its participants and job resolved.
type ContractView struct {
	*models.Contract
	Client   models.UserSummary `json:"client"`
	Doer     models.UserSummary `json:"doer"`
	JobTitle string             `json:"job_title"`
}

func newContractView(ctx context.Context, c *models.Contract) (ContractView, error) {
	users, errs := middlewares.GetUsers(ctx, []int{c.ClientID, c.DoerID})
	for _, err := range errs {
		if err != nil {
			return ContractView{}, err
		}
	}
	job, err := middlewares.GetJob(ctx, c.JobID)
	if err != nil {
		return ContractView{}, err
	}
	return ContractView{
		Contract: c,
		Client:   users[0].Summary(),
		Doer:     users[1].Summary(),
		JobTitle: job.Title,
	}, nil
}

func (h *Handler) respondContract(c *gin.Context, contract *models.Contract) {
	view, err := newContractView(c.Request.Context(), contract)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// contractOp runs an operation that takes the contract id and the caller.
func (h *Handler) contractOp(op func(ctx context.Context, contractID, actorID int) (*models.Contract, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			c.Error(err)
			return
		}
		contract, err := op(c.Request.Context(), id, actorID(c))
		if err != nil {
			c.Error(err)
			return
		}
		h.respondContract(c, contract)
	}
}

type listContractsQuery struct {
	Status string `form:"status" json:"status" validate:"omitempty,oneof=pending ready accepted in_progress awaiting_confirmation completed cancelled"`
	Role   string `form:"role" json:"role" validate:"omitempty,oneof=client doer"`
	After  string `form:"after" json:"after"`
	Limit  int    `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
}

type contractListResponse struct {
	Contracts []ContractView  `json:"contracts"`
	PageInfo  models.PageInfo `json:"page_info"`
}

func (h *Handler) listContracts(c *gin.Context) {
	var q listContractsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(malformedRequestError{err: err})
		return
	}
	if err := h.validate.Struct(q); err != nil {
		c.Error(err)
		return
	}
	filter := models.ContractFilter{Role: q.Role, Limit: q.Limit}
	if q.Status != "" {
		status := models.ContractStatus(q.Status)
		filter.Status = &status
	}
	if q.After != "" {
		filter.After = &q.After
	}

	ctx := c.Request.Context()
	page, err := models.ListContractsForUser(ctx, actorID(c), filter)
	if err != nil {
		c.Error(err)
		return
	}
	views := make([]ContractView, 0, len(page.Contracts))
	for i := range page.Contracts {
		view, err := newContractView(ctx, &page.Contracts[i])
		if err != nil {
			c.Error(err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, contractListResponse{Contracts: views, PageInfo: page.PageInfo})
}

func (h *Handler) createContract(c *gin.Context) {
	var in models.NewContract
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	contract, err := models.CreateContract(c.Request.Context(), actorID(c), in)
	if err != nil {
		c.Error(err)
		return
	}
	view, err := newContractView(c.Request.Context(), contract)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) getContract(c *gin.Context) {
	h.contractOp(models.GetContract)(c)
}

func (h *Handler) acceptContract(c *gin.Context) {
	h.contractOp(models.AcceptContract)(c)
}

func (h *Handler) confirmCompletion(c *gin.Context) {
	h.contractOp(models.ConfirmCompletion)(c)
}

type pairingCodeResponse struct {
	ContractView
	PairingCode string `json:"pairing_code"`
}

func (h *Handler) generatePairingCode(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.Error(err)
		return
	}
	contract, code, err := models.GeneratePairingCode(c.Request.Context(), id, actorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	view, err := newContractView(c.Request.Context(), contract)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pairingCodeResponse{ContractView: view, PairingCode: code})
}

type pairingInput struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) confirmPairing(c *gin.Context) {
	var in pairingInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.ConfirmPairing(ctx, contractID, actorID, in.Code)
	})(c)
}

type reasonInput struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) cancelContract(c *gin.Context) {
	var in reasonInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.CancelContract(ctx, contractID, actorID, in.Reason)
	})(c)
}

func (h *Handler) requestExtension(c *gin.Context) {
	var in models.ExtensionRequest
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RequestExtension(ctx, contractID, actorID, in)
	})(c)
}

func (h *Handler) approveExtension(c *gin.Context) {
	h.contractOp(models.ApproveExtension)(c)
}

func (h *Handler) rejectExtension(c *gin.Context) {
	var in reasonInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RejectExtension(ctx, contractID, actorID, in.Reason)
	})(c)
}

func (h *Handler) modifyPendingPrice(c *gin.Context) {
	var in models.PriceModificationInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.ModifyPendingPrice(ctx, contractID, actorID, in)
	})(c)
}

func (h *Handler) requestPriceChange(c *gin.Context) {
	var in models.PriceChangeRequest
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RequestPriceChange(ctx, contractID, actorID, in)
	})(c)
}

func (h *Handler) approvePriceChange(c *gin.Context) {
	h.contractOp(models.ApprovePriceChange)(c)
}

func (h *Handler) rejectPriceChange(c *gin.Context) {
	var in reasonInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RejectPriceChange(ctx, contractID, actorID, in.Reason)
	})(c)
}

func (h *Handler) raiseTaskClaim(c *gin.Context) {
	var in models.TaskClaimInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RaiseTaskClaim(ctx, contractID, actorID, in)
	})(c)
}

func (h *Handler) respondTaskClaim(c *gin.Context) {
	var in models.TaskClaimReply
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.RespondTaskClaim(ctx, contractID, actorID, in)
	})(c)
}

func (h *Handler) openDispute(c *gin.Context) {
	var in models.DisputeInput
	if err := h.bind(c, &in); err != nil {
		c.Error(err)
		return
	}
	h.contractOp(func(ctx context.Context, contractID, actorID int) (*models.Contract, error) {
		return models.OpenDispute(ctx, contractID, actorID, in)
	})(c)
}
