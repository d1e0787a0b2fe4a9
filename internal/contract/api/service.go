package api

import (
	"github.com/gin-gonic/gin"
	"github.com/hookline-lab/project-hookline/internal/contract"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
)

// Service provides the contract management API.
type Service struct {
	registry *contract.Registry
	outbox   storage.OutboxStore
}

// NewService creates a new contract API service.
func NewService(reg *contract.Registry, outbox storage.OutboxStore) *Service {
	return &Service{
		registry: reg,
		outbox:   outbox,
	}
}

// RegisterRoutes registers the contract API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry, s.outbox)

	contracts := r.Group("/v1/contracts")
	{
		contracts.POST("", handler.HandleCreate)
		contracts.GET("", handler.HandleList)
		contracts.GET("/properties", handler.HandleListProperties)
		contracts.DELETE("/:id", handler.HandleDeactivate)
	}

	// Operator inspection of delivery rows (dead letters in particular).
	r.GET("/v1/outbox/:id", handler.HandleGetDelivery)
}
