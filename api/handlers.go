// Package api exposes the consultation workflow over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/audit"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/services/casework"
)

// CaseService is the workflow surface the handlers drive.
type CaseService interface {
	CreateCase(ctx context.Context, p model.Principal, in casework.NewCase) (model.Case, error)
	ListCases(ctx context.Context, p model.Principal) ([]model.Case, error)
	GetCase(ctx context.Context, p model.Principal, caseID uuid.UUID) (model.Case, error)

	Claim(ctx context.Context, p model.Principal, caseID uuid.UUID) (casework.Transition, error)
	SubmitDiagnosticPlan(ctx context.Context, p model.Principal, caseID uuid.UUID, plan string) (casework.Transition, error)
	SubmitDiagnostics(ctx context.Context, p model.Principal, caseID uuid.UUID, notes *string) (casework.Transition, error)
	SubmitFinalReport(ctx context.Context, p model.Principal, caseID uuid.UUID, r model.FinalReport) (casework.Transition, error)

	SendMessage(ctx context.Context, p model.Principal, caseID uuid.UUID, in casework.NewMessage) (model.CaseMessage, error)
	Messages(ctx context.Context, p model.Principal, caseID uuid.UUID) ([]model.CaseMessage, error)

	Upload(ctx context.Context, p model.Principal, caseID uuid.UUID, meta casework.FileMeta, storagePath string) (model.CaseFile, error)
	Store(ctx context.Context, p model.Principal, caseID uuid.UUID, meta casework.FileMeta, body io.Reader, size int64) (model.CaseFile, error)
	ListFiles(ctx context.Context, p model.Principal, caseID uuid.UUID) ([]model.CaseFile, error)
	Delete(ctx context.Context, p model.Principal, fileID uuid.UUID) error

	FileURL(ctx context.Context, p model.Principal, fileID uuid.UUID) (string, error)
	CaseFileURLs(ctx context.Context, p model.Principal, caseID uuid.UUID, paths []string) (map[string]string, error)
}

// PrincipalResolver turns a request into the calling principal.
type PrincipalResolver interface {
	Principal(r *http.Request) (model.Principal, error)
}

// RateLimiter is satisfied by *limiter.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, principal, scope string) error
}

// Options carries the edge concerns. Every field is optional.
type Options struct {
	Auth           PrincipalResolver
	Limiter        RateLimiter
	Audit          *audit.Logger
	Logger         *slog.Logger
	MaxUploadBytes int64
}

type Handler struct {
	svc       CaseService
	auth      PrincipalResolver
	limiter   RateLimiter
	audit     *audit.Logger
	logger    *slog.Logger
	maxUpload int64
}

func NewHandler(svc CaseService, o Options) *Handler {
	h := &Handler{
		svc:       svc,
		auth:      o.Auth,
		limiter:   o.Limiter,
		audit:     o.Audit,
		logger:    o.Logger,
		maxUpload: o.MaxUploadBytes,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 32 << 20
	}
	return h
}

// RegisterRoutes mounts the API under /api.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	g := r.Group("/api", h.authenticate)

	g.GET("/cases", h.listCases)
	g.GET("/cases/:id", h.getCase)
	g.GET("/cases/:id/messages", h.listMessages)
	g.GET("/cases/:id/files", h.listFiles)
	g.GET("/files/:fileID/url", h.fileURL)
	g.POST("/cases/:id/files/urls", h.caseFileURLs)

	g.POST("/cases", h.audited("create_case"), h.limited, h.createCase)
	g.POST("/cases/:id/claim", h.audited("claim"), h.limited, h.claim)
	g.POST("/cases/:id/diagnostic-plan", h.audited("submit_diagnostic_plan"), h.limited, h.diagnosticPlan)
	g.POST("/cases/:id/diagnostics", h.audited("submit_diagnostics"), h.limited, h.diagnostics)
	g.POST("/cases/:id/final-report", h.audited("submit_final_report"), h.limited, h.finalReport)
	g.POST("/cases/:id/messages", h.audited("send_message"), h.limited, h.sendMessage)
	g.POST("/cases/:id/files", h.audited("upload_file"), h.limited, h.uploadFile)
	g.DELETE("/files/:fileID", h.audited("delete_file"), h.limited, h.deleteFile)
}

func parseID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (h *Handler) createCase(c *gin.Context) {
	var in casework.NewCase
	if err := bindJSON(c, &in); err != nil {
		h.fail(c, err)
		return
	}
	created, err := h.svc.CreateCase(c.Request.Context(), principalFrom(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, created)
}

func (h *Handler) listCases(c *gin.Context) {
	cases, err := h.svc.ListCases(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}
	respond(c, http.StatusOK, cases)
}

func (h *Handler) getCase(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	got, err := h.svc.GetCase(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, got)
}

func (h *Handler) claim(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	tr, err := h.svc.Claim(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, tr)
}

type planRequest struct {
	Plan string `json:"plan"`
}

func (h *Handler) diagnosticPlan(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req planRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	tr, err := h.svc.SubmitDiagnosticPlan(c.Request.Context(), principalFrom(c), id, req.Plan)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, tr)
}

type diagnosticsRequest struct {
	Notes *string `json:"notes"`
}

// diagnostics accepts an empty body; notes are optional.
func (h *Handler) diagnostics(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req diagnosticsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	tr, err := h.svc.SubmitDiagnostics(c.Request.Context(), principalFrom(c), id, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, tr)
}

func (h *Handler) finalReport(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var report model.FinalReport
	if err := bindJSON(c, &report); err != nil {
		h.fail(c, err)
		return
	}
	tr, err := h.svc.SubmitFinalReport(c.Request.Context(), principalFrom(c), id, report)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, tr)
}

func (h *Handler) listMessages(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	msgs, err := h.svc.Messages(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.CaseMessage{}
	}
	respond(c, http.StatusOK, msgs)
}

func (h *Handler) sendMessage(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in casework.NewMessage
	if err := bindJSON(c, &in); err != nil {
		h.fail(c, err)
		return
	}
	msg, err := h.svc.SendMessage(c.Request.Context(), principalFrom(c), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, msg)
}
