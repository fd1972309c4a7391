package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
	"orchestrator/internal/orchestrator"
)

// Handler implements the demo API's endpoints over the Orchestrator core.
type Handler struct {
	orc   *orchestrator.Orchestrator
	store store.Store
	bus   bus.Bus
}

// submitRequest is the wire shape of POST /v1/operations.
type submitRequest struct {
	Domain       string `json:"domain" binding:"required"`
	EventType    string `json:"eventType" binding:"required"`
	BizKey       string `json:"bizKey" binding:"required"`
	IdemKey      string `json:"idemKey" binding:"required"`
	Payload      []byte `json:"payload"`
	TimeBudgetMs int    `json:"timeBudgetMs"`
}

// submitResponse mirrors orchestrator.Handle over the wire.
type submitResponse struct {
	Completed     bool         `json:"completed"`
	OpId          string       `json:"opId"`
	Outcome       *outcomeWire `json:"outcome,omitempty"`
	StatusLocator string       `json:"statusLocator,omitempty"`
}

type outcomeWire struct {
	Kind                 string `json:"kind"`
	Message              string `json:"message,omitempty"`
	ProviderTxnID        string `json:"providerTxnId,omitempty"`
	ResultPayload        []byte `json:"resultPayload,omitempty"`
	Reason               string `json:"reason,omitempty"`
	AttemptCount         int    `json:"attemptCount,omitempty"`
	NextRetryAfterMillis int64  `json:"nextRetryAfterMillis,omitempty"`
	ErrorCode            string `json:"errorCode,omitempty"`
}

func toOutcomeWire(o orc.Outcome) *outcomeWire {
	return &outcomeWire{
		Kind:                 string(o.Kind),
		Message:              o.Message,
		ProviderTxnID:        o.ProviderTxnID,
		ResultPayload:        o.ResultPayload,
		Reason:               o.Reason,
		AttemptCount:         o.AttemptCount,
		NextRetryAfterMillis: o.NextRetryAfterMillis,
		ErrorCode:            o.ErrorCode,
	}
}

// Submit handles POST /v1/operations.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}

	timeBudgetMs := req.TimeBudgetMs
	if timeBudgetMs == 0 {
		timeBudgetMs = 1000
	}

	cmd := orc.Command{
		Domain:    orc.Domain(req.Domain),
		EventType: orc.EventType(req.EventType),
		BizKey:    orc.BizKey(req.BizKey),
		IdemKey:   orc.IdemKey(req.IdemKey),
		Payload:   orc.Payload(req.Payload),
	}

	handle, err := h.orc.Submit(c.Request.Context(), cmd, timeBudgetMs)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := submitResponse{Completed: handle.Completed, OpId: string(handle.OpId), StatusLocator: handle.StatusLocator}
	if handle.Outcome != nil {
		resp.Outcome = toOutcomeWire(*handle.Outcome)
	}

	status := http.StatusAccepted
	if handle.Completed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// statusResponse is the wire shape of GET /v1/operations/{opId}.
type statusResponse struct {
	OpId    string       `json:"opId"`
	State   string       `json:"state"`
	Outcome *outcomeWire `json:"outcome,omitempty"`
}

// GetStatus handles GET /v1/operations/{opId}, surfacing the current
// OperationState and, when terminal, the recorded Outcome.
func (h *Handler) GetStatus(c *gin.Context) {
	opID := orc.OpId(c.Param("opId"))
	if err := opID.Validate(); err != nil {
		_ = c.Error(err)
		return
	}

	state, err := h.store.GetState(c.Request.Context(), opID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := statusResponse{OpId: string(opID), State: string(state)}
	if state.IsTerminal() {
		outcome, err := h.store.GetWriteAheadOutcome(c.Request.Context(), opID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		resp.Outcome = toOutcomeWire(outcome)
	}
	c.JSON(http.StatusOK, resp)
}

// ListDLQ handles GET /v1/dlq, an operator-facing debug endpoint over the
// Bus's dead-letter destination, when the configured Bus supports it.
func (h *Handler) ListDLQ(c *gin.Context) {
	inspectable, ok := h.bus.(bus.Inspectable)
	if !ok {
		_ = c.Error(apperror.NewValidation("configured bus does not support DLQ inspection"))
		return
	}

	entries, err := inspectable.ListDLQ(c.Request.Context(), 100)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
