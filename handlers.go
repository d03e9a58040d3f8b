package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/models/reports"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/mmdatafocus/bilan_backend/workflow"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// app holds the components the HTTP surface drives.
type app struct {
	tracker *workflow.PhaseTracker
	docs    *workflow.DocumentManager
	engine  *workflow.AutomationEngine
	logger  *logrus.Logger
}

func registerRoutes(r gin.IRouter, a *app) {
	r.POST("/cases", a.openCaseHandler())
	r.GET("/cases", a.listCasesHandler())
	r.GET("/cases/:id", a.getCaseHandler())
	r.POST("/cases/:id/objectives/validate", a.validateObjectivesHandler())
	r.POST("/cases/:id/phase/advance", a.advanceHandler())
	r.POST("/cases/:id/abandon", a.abandonHandler())
	r.GET("/cases/:id/stats", a.statsHandler())
	r.POST("/cases/:id/activities", a.recordActivityHandler())
	r.POST("/cases/:id/tests", a.recordTestHandler())
	r.GET("/cases/:id/documents", a.listDocumentsHandler())
	r.POST("/cases/:id/synthesis/draft", a.draftSynthesisHandler())
	r.GET("/cases/:id/automation", a.analyzeHandler())
	r.POST("/cases/:id/automation/execute", a.executeActionsHandler())

	r.POST("/documents", a.createDocumentHandler())
	r.GET("/documents/:id", a.getDocumentHandler())
	r.POST("/documents/:id/signature", a.recordSignatureHandler())
	r.POST("/documents/:id/validate", a.validateDocumentHandler())
	r.POST("/documents/:id/sign", a.signDocumentHandler())
	r.POST("/documents/:id/finalize", a.finalizeHandler())
	r.GET("/documents/:id/versions", a.listVersionsHandler())
	r.GET("/documents/:id/integrity", a.integrityHandler())

	r.GET("/reports/compliance", a.complianceReportHandler())
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindInvalidTransition, models.ErrKindPreconditionNotMet, models.ErrKindAlreadyValidated,
		models.ErrKindAlreadyCompleted, models.ErrKindConcurrentModification, models.ErrKindNumberingExhausted:
		return http.StatusConflict
	case models.ErrKindValidation:
		return http.StatusUnprocessableEntity
	case models.ErrKindExternalService:
		return http.StatusBadGateway
	case models.ErrKindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError maps a domain error to its status. Server side failures also go to c.Errors
// so customErrorLogger records them.
func respondError(c *gin.Context, err error) {
	var body errorResponse
	var de *models.DomainError
	switch {
	case errors.As(err, &de):
		body = errorResponse{Error: string(de.Kind), Message: de.Message, Fields: de.Fields}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body = errorResponse{Error: string(models.ErrKindPersistence), Message: err.Error()}
	default:
		body = errorResponse{Error: "INTERNAL_ERROR", Message: "internal error"}
	}
	status := statusFor(models.ErrorKind(body.Error))
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, models.NewValidationError("invalid request body: "+err.Error(), nil))
		return false
	}
	return true
}

func (a *app) openCaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCase
		if !bindJSON(c, &input) {
			return
		}
		if input.OrganizationId == "" {
			input.OrganizationId, _ = utils.GetOrganizationIdFromContext(c.Request.Context())
		}
		created, err := a.tracker.OpenCase(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func (a *app) listCasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := caseFilterFromQuery(c)
		if !ok {
			return
		}
		cases, err := a.tracker.ListCases(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cases)
	}
}

func (a *app) getCaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		found, err := a.tracker.GetCase(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, found)
	}
}

type validateObjectivesRequest struct {
	Objectives []string `json:"objectives"`
}

func (a *app) validateObjectivesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateObjectivesRequest
		if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
			return
		}
		updated, err := a.tracker.ValidateObjectives(c.Request.Context(), c.Param("id"), req.Objectives)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

type advanceRequest struct {
	TargetPhase models.CaseStatus `json:"target_phase" binding:"required"`
}

func (a *app) advanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req advanceRequest
		if !bindJSON(c, &req) {
			return
		}
		if !req.TargetPhase.IsValid() {
			respondError(c, models.NewValidationError("unknown phase", map[string]string{"TargetPhase": "oneof"}))
			return
		}
		updated, err := a.tracker.Advance(c.Request.Context(), c.Param("id"), req.TargetPhase)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (a *app) abandonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req abandonRequest
		if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
			return
		}
		updated, err := a.tracker.Abandon(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func (a *app) statsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := a.engine.Stats(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func (a *app) recordActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewActivity
		if !bindJSON(c, &input) {
			return
		}
		activity, err := a.tracker.RecordActivity(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, activity)
	}
}

func (a *app) recordTestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAssessmentTest
		if !bindJSON(c, &input) {
			return
		}
		test, err := a.tracker.RecordTest(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, test)
	}
}

func (a *app) listDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := a.docs.ListDocuments(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, docs)
	}
}

func (a *app) draftSynthesisHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := a.docs.DraftSynthesis(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

type automationResponse struct {
	Snapshot workflow.CaseStateSnapshot  `json:"snapshot"`
	Actions  []workflow.AutomationAction `json:"actions"`
}

func (a *app) analyzeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := a.engine.Analyze(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		actions := a.engine.GenerateActions(snap)
		if actions == nil {
			actions = []workflow.AutomationAction{}
		}
		c.JSON(http.StatusOK, automationResponse{Snapshot: snap, Actions: actions})
	}
}

type executeActionsRequest struct {
	All     bool                        `json:"all"`
	Actions []workflow.AutomationAction `json:"actions"`
}

func (a *app) executeActionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executeActionsRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		caseID := c.Param("id")
		actions := req.Actions
		if req.All {
			snap, err := a.engine.Analyze(ctx, caseID)
			if err != nil {
				respondError(c, err)
				return
			}
			actions = a.engine.GenerateActions(snap)
		} else if len(actions) == 0 {
			respondError(c, models.NewValidationError("actions are required unless all is set", map[string]string{"Actions": "required"}))
			return
		}
		report, err := a.engine.ExecuteActions(ctx, caseID, actions)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func (a *app) createDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewComplianceDocument
		if !bindJSON(c, &input) {
			return
		}
		doc, err := a.docs.CreateDocument(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

func (a *app) getDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := a.docs.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func (a *app) recordSignatureHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.SignatureInput
		if !bindJSON(c, &input) {
			return
		}
		doc, err := a.docs.RecordSignature(c.Request.Context(), c.Param("id"), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func (a *app) validateDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := a.docs.ValidateDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

type signRequest struct {
	Party models.Party `json:"party" binding:"required"`
}

func (a *app) signDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signRequest
		if !bindJSON(c, &req) {
			return
		}
		doc, err := a.docs.SignDocument(c.Request.Context(), c.Param("id"), req.Party)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func (a *app) finalizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := a.docs.Finalize(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func (a *app) listVersionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		versions, err := a.docs.ListVersions(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

func (a *app) integrityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := a.docs.VerifyIntegrity(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// caseFilterFromQuery reads organization_id, status (comma separated), from and to (YYYY-MM-DD).
// The organization header applies when the query names none.
func caseFilterFromQuery(c *gin.Context) (models.CaseFilter, bool) {
	filter := models.CaseFilter{OrganizationId: strings.TrimSpace(c.Query("organization_id"))}
	if filter.OrganizationId == "" {
		filter.OrganizationId, _ = utils.GetOrganizationIdFromContext(c.Request.Context())
	}
	for _, s := range splitAndTrim(c.Query("status")) {
		status := models.CaseStatus(strings.ToUpper(s))
		if !status.IsValid() {
			respondError(c, models.NewValidationError("unknown status "+s, map[string]string{"status": "oneof"}))
			return filter, false
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for key, dst := range map[string]**time.Time{"from": &filter.StartedFrom, "to": &filter.StartedTo} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(c, models.NewValidationError("dates use YYYY-MM-DD", map[string]string{key: "date"}))
			return filter, false
		}
		if key == "to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*dst = &t
	}
	return filter, true
}

func (a *app) complianceReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := caseFilterFromQuery(c)
		if !ok {
			return
		}
		summary, rows, err := a.engine.ComplianceReport(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		if strings.EqualFold(c.Query("format"), "json") {
			c.JSON(http.StatusOK, gin.H{"summary": summary, "cases": rows})
			return
		}
		var buf bytes.Buffer
		if err := reports.WriteComplianceWorkbook(&buf, summary, rows); err != nil {
			config.LogError(a.logger, "server", "complianceReportHandler", "writing workbook", filter, err)
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR", Message: "report cannot be rendered"})
			return
		}
		filename := fmt.Sprintf("compliance-report-%s.xlsx", time.Now().UTC().Format("20060102"))
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	}
}
