package api

import (
	"net/http"

	"github.com/banking/sar-governance/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CustomerHandler accepts KYC profiles and transaction histories from
// upstream systems
type CustomerHandler struct {
	customerService *service.CustomerService
	logger          *zap.Logger
}

func NewCustomerHandler(customerService *service.CustomerService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{customerService: customerService, logger: logger}
}

func (h *CustomerHandler) RegisterRoutes(g *echo.Group) {
	g.PUT("/customers/:customer_id", h.LoadCustomer)
}

// LoadCustomer handles PUT /customers/:customer_id
func (h *CustomerHandler) LoadCustomer(c echo.Context) error {
	var req service.CustomerRecord
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id := c.Param("customer_id")
	if req.Profile.CustomerID == "" {
		req.Profile.CustomerID = id
	}
	if req.Profile.CustomerID != id {
		return badRequest(c, "customer id does not match the path")
	}
	if err := h.customerService.LoadCustomer(c.Request().Context(), req); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"customer_id":  id,
		"transactions": len(req.Transactions),
	})
}
