package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CaseHandler exposes the case lifecycle over HTTP
type CaseHandler struct {
	caseService    *service.CaseService
	analystClaim   string
	defaultAnalyst string
	logger         *zap.Logger
}

func NewCaseHandler(caseService *service.CaseService, analystClaim, defaultAnalyst string, logger *zap.Logger) *CaseHandler {
	if analystClaim == "" {
		analystClaim = "sub"
	}
	return &CaseHandler{
		caseService:    caseService,
		analystClaim:   analystClaim,
		defaultAnalyst: defaultAnalyst,
		logger:         logger,
	}
}

// RegisterRoutes registers the API routes
func (h *CaseHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts", h.ListAlerts)
	g.POST("/alerts", h.CreateAlert)
	g.POST("/alerts/:id/investigate", h.Investigate)
	g.GET("/alerts/:id/case", h.LatestCase)

	g.GET("/cases/:id", h.GetCase)
	g.POST("/cases/:id/typology", h.ConfirmTypology)
	g.POST("/cases/:id/feedback", h.SubmitFeedback)
	g.POST("/cases/:id/intervene", h.Intervene)
	g.POST("/cases/:id/reopen", h.Reopen)
	g.PUT("/cases/:id/sar", h.EditNarrative)
	g.POST("/cases/:id/submit", h.Submit)
	g.GET("/cases/:id/audit", h.AuditTrail)
	g.GET("/cases/:id/submission", h.GetSubmission)
	g.GET("/cases/:id/submission/archive", h.ArchivedSubmission)

	g.GET("/audit", h.RecentAudit)
	g.GET("/audit/search", h.SearchAudit)
	g.GET("/thresholds/:alert_type", h.GetThreshold)
}

type createAlertRequest struct {
	CustomerID string `json:"customer_id"`
	AlertType  string `json:"alert_type"`
	RiskScore  int    `json:"risk_score"`
}

type analystRequest struct {
	Analyst string `json:"analyst"`
}

type typologyRequest struct {
	Typology domain.Typology `json:"typology"`
	Analyst  string          `json:"analyst"`
}

type feedbackRequest struct {
	Label           domain.FeedbackLabel `json:"label"`
	Rationale       string               `json:"rationale"`
	RationaleDetail string               `json:"rationale_detail"`
	Analyst         string               `json:"analyst"`
}

type reopenRequest struct {
	Rationale string `json:"rationale"`
	Analyst   string `json:"analyst"`
}

type narrativeRequest struct {
	Narrative string `json:"sar_narrative"`
	Analyst   string `json:"analyst"`
}

// ListAlerts handles GET /alerts?status=
func (h *CaseHandler) ListAlerts(c echo.Context) error {
	alerts, err := h.caseService.ListAlerts(c.Request().Context(), domain.AlertStatus(c.QueryParam("status")))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// CreateAlert handles POST /alerts
func (h *CaseHandler) CreateAlert(c echo.Context) error {
	var req createAlertRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	alert, err := h.caseService.CreateAlert(c.Request().Context(), req.CustomerID, req.AlertType, req.RiskScore)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, alert)
}

// Investigate handles POST /alerts/:id/investigate
func (h *CaseHandler) Investigate(c echo.Context) error {
	alertID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid alert id")
	}
	var req analystRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.caseService.OpenCase(c.Request().Context(), alertID, h.analyst(c, req.Analyst))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// LatestCase handles GET /alerts/:id/case
func (h *CaseHandler) LatestCase(c echo.Context) error {
	alertID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid alert id")
	}
	cs, err := h.caseService.LatestCaseForAlert(c.Request().Context(), alertID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, cs)
}

// GetCase handles GET /cases/:id
func (h *CaseHandler) GetCase(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	detail, err := h.caseService.GetCaseDetail(c.Request().Context(), caseID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ConfirmTypology handles POST /cases/:id/typology
func (h *CaseHandler) ConfirmTypology(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req typologyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.caseService.ConfirmTypology(c.Request().Context(), caseID, req.Typology, h.analyst(c, req.Analyst)); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "confirmed", "typology": string(req.Typology)})
}

// SubmitFeedback handles POST /cases/:id/feedback
func (h *CaseHandler) SubmitFeedback(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	err = h.caseService.SubmitFeedback(c.Request().Context(), caseID, req.Label, req.Rationale, req.RationaleDetail, h.analyst(c, req.Analyst))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "recorded", "label": string(req.Label)})
}

// Intervene handles POST /cases/:id/intervene
func (h *CaseHandler) Intervene(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req service.InterventionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Analyst = h.analyst(c, req.Analyst)
	intervention, err := h.caseService.ExecuteIntervention(c.Request().Context(), caseID, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, intervention)
}

// Reopen handles POST /cases/:id/reopen
func (h *CaseHandler) Reopen(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req reopenRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.caseService.ReopenCase(c.Request().Context(), caseID, req.Rationale, h.analyst(c, req.Analyst)); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(domain.CaseStatusDraft)})
}

// EditNarrative handles PUT /cases/:id/sar
func (h *CaseHandler) EditNarrative(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req narrativeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.caseService.EditNarrative(c.Request().Context(), caseID, req.Narrative, h.analyst(c, req.Analyst)); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

// Submit handles POST /cases/:id/submit
func (h *CaseHandler) Submit(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	var req analystRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	sub, err := h.caseService.SubmitCase(c.Request().Context(), caseID, h.analyst(c, req.Analyst))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, sub)
}

// AuditTrail handles GET /cases/:id/audit
func (h *CaseHandler) AuditTrail(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	trail, err := h.caseService.AuditTrail(c.Request().Context(), caseID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, trail)
}

// GetSubmission handles GET /cases/:id/submission
func (h *CaseHandler) GetSubmission(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	sub, err := h.caseService.GetSubmission(c.Request().Context(), caseID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// ArchivedSubmission handles GET /cases/:id/submission/archive
func (h *CaseHandler) ArchivedSubmission(c echo.Context) error {
	caseID, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid case id")
	}
	sub, err := h.caseService.ArchivedSubmission(c.Request().Context(), caseID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// RecentAudit handles GET /audit?limit=
func (h *CaseHandler) RecentAudit(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.caseService.RecentAudit(c.Request().Context(), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// SearchAudit handles GET /audit/search?q=
func (h *CaseHandler) SearchAudit(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.caseService.SearchAudit(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// GetThreshold handles GET /thresholds/:alert_type
func (h *CaseHandler) GetThreshold(c echo.Context) error {
	alertType := c.Param("alert_type")
	adj, err := h.caseService.AdaptiveThreshold(c.Request().Context(), alertType)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"alert_type": alertType, "threshold_adjustment": adj})
}

// analyst resolves the acting analyst: token claim, then request body, then
// the configured default
func (h *CaseHandler) analyst(c echo.Context, fromBody string) string {
	if token, ok := c.Get("user").(*jwt.Token); ok && token != nil {
		var claims jwt.MapClaims
		switch cl := token.Claims.(type) {
		case *jwt.MapClaims:
			claims = *cl
		case jwt.MapClaims:
			claims = cl
		}
		if v, ok := claims[h.analystClaim].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if strings.TrimSpace(fromBody) != "" {
		return fromBody
	}
	return h.defaultAnalyst
}

func pathID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func (h *CaseHandler) respondError(c echo.Context, err error) error {
	return respondError(c, h.logger, err)
}

// respondError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func respondError(c echo.Context, logger *zap.Logger, err error) error {
	var (
		ve *domain.ValidationError
		nf *domain.NotFoundError
		ie *domain.IntegrityError
	)
	if ge, ok := domain.AsGovernance(err); ok {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error": ge.Kind.Message(),
			"kind":  ge.Kind,
			"unmet": ge.Unmet,
		})
	}
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &ie):
		return c.JSON(http.StatusConflict, map[string]string{"error": ie.Error(), "constraint": ie.Constraint})
	case errors.Is(err, domain.ErrImmutabilityViolation):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrSearchDisabled), errors.Is(err, service.ErrArchiveDisabled):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	logger.Error("Request failed",
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
