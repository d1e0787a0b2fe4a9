package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/contract"
	httperr "github.com/hookline-lab/project-hookline/internal/core/errors"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
)

// Handler handles contract management HTTP requests.
type Handler struct {
	registry *contract.Registry
	outbox   storage.OutboxStore
}

// NewHandler creates a new contract API handler.
func NewHandler(reg *contract.Registry, outbox storage.OutboxStore) *Handler {
	return &Handler{
		registry: reg,
		outbox:   outbox,
	}
}

// CreateContractRequest is the request body for POST /v1/contracts.
// Target.Secret is accepted here and never echoed back.
type CreateContractRequest struct {
	ID              string                          `json:"id"`
	SourceCriterion *v1.PropertyCriterion           `json:"source_criterion,omitempty"`
	TypeCriterion   *v1.PropertyCriterion           `json:"type_criterion,omitempty"`
	Properties      map[string]v1.PropertyCriterion `json:"properties,omitempty"`
	Target          v1.Target                       `json:"target"`
}

// TargetResponse is the read shape of a delivery target. The signing secret
// is write-only; reads expose only whether one is configured.
type TargetResponse struct {
	Handler   string `json:"handler,omitempty"`
	URL       string `json:"url,omitempty"`
	SecretSet bool   `json:"secret_set"`
}

// ContractResponse is the response body for contract operations.
type ContractResponse struct {
	ID              string                          `json:"id"`
	SourceCriterion *v1.PropertyCriterion           `json:"source_criterion,omitempty"`
	TypeCriterion   *v1.PropertyCriterion           `json:"type_criterion,omitempty"`
	Properties      map[string]v1.PropertyCriterion `json:"properties,omitempty"`
	Target          TargetResponse                  `json:"target"`
	Active          bool                            `json:"active"`
	CreatedAt       string                          `json:"created_at"`
	Origin          string                          `json:"origin"`
}

func toResponse(c *v1.Contract) *ContractResponse {
	return &ContractResponse{
		ID:              c.ID,
		SourceCriterion: c.SourceCriterion,
		TypeCriterion:   c.TypeCriterion,
		Properties:      c.Properties,
		Target: TargetResponse{
			Handler:   c.Target.Handler,
			URL:       c.Target.URL,
			SecretSet: c.Target.Secret != "",
		},
		Active:    c.Active,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		Origin:    string(c.Origin),
	}
}

// HandleCreate handles POST /v1/contracts.
func (h *Handler) HandleCreate(c *gin.Context) {
	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "invalid contract JSON",
		})
		return
	}

	newContract := &v1.Contract{
		ID:              req.ID,
		SourceCriterion: req.SourceCriterion,
		TypeCriterion:   req.TypeCriterion,
		Properties:      req.Properties,
		Target:          req.Target,
		Active:          true,
		Origin:          v1.OriginAPI,
	}

	err := h.registry.Register(c.Request.Context(), newContract)
	if err != nil {
		var verr *v1.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   verr.Error(),
				Details:   map[string]interface{}{"field": verr.Field},
			})
		case errors.Is(err, storage.ErrDuplicate):
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpDuplicateError,
				Message:   "a contract with this id already exists",
			})
		default:
			slog.Error("Contract create error", "error", err)
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "failed to create contract",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, toResponse(newContract))
}

// HandleDeactivate handles DELETE /v1/contracts/{id}.
func (h *Handler) HandleDeactivate(c *gin.Context) {
	id := c.Param("id")

	err := h.registry.Deactivate(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "no contract with this id",
			})
			return
		}
		slog.Error("Contract deactivate error", "error", err, "contract_id", id)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "failed to deactivate contract",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "id": id})
}

// HandleList handles GET /v1/contracts with optional ?property= and ?value=
// filters over declared property criteria.
func (h *Handler) HandleList(c *gin.Context) {
	property := c.Query("property")
	value := c.Query("value")

	contracts := h.registry.ListContracts(property, value)

	responses := make([]*ContractResponse, len(contracts))
	for i, ct := range contracts {
		responses[i] = toResponse(ct)
	}

	c.JSON(http.StatusOK, gin.H{"contracts": responses, "count": len(responses)})
}

// HandleListProperties handles GET /v1/contracts/properties: the vocabulary
// of declared property names and values across all contracts.
func (h *Handler) HandleListProperties(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"properties": h.registry.ListDeclaredProperties()})
}

// HandleGetDelivery handles GET /v1/outbox/{id}. The target secret is never
// part of the response.
func (h *Handler) HandleGetDelivery(c *gin.Context) {
	id := c.Param("id")

	d, err := h.outbox.GetDelivery(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "no delivery with this id",
			})
			return
		}
		slog.Error("Delivery lookup error", "error", err, "delivery_id", id)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "failed to load delivery",
		})
		return
	}

	c.JSON(http.StatusOK, d)
}
