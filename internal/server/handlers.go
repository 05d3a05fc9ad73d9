// Package server exposes the persistence controller and run scheduler
// over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// ErrorResponse is the uniform error body for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Rejection carries the structured refusal for rejected saves.
	Rejection *persist.Rejection `json:"rejection,omitempty"`
}

// RunRequest triggers an execution run for one subject.
type RunRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Mode      string `json:"mode" binding:"required,runmode"`

	// NodeID, when set, forces just this node and returns its direct
	// downstream dependents for the caller to chain.
	NodeID string `json:"node_id"`
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	store      *store.Store
	controller *persist.Controller
	scheduler  *engine.Scheduler
	logger     *slog.Logger
}

func NewHandlers(st *store.Store, ctrl *persist.Controller, sched *engine.Scheduler, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: st, controller: ctrl, scheduler: sched, logger: logger}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": pipeline.EngineVersion})
}

// HandleGetDocument handles GET /v1/documents/:id.
func (h *Handlers) HandleGetDocument(c *gin.Context) {
	doc, err := h.store.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found", Code: "NOT_FOUND"})
			return
		}
		h.logger.Error("document load failed", "document", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILURE"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleListDocuments handles GET /v1/documents.
func (h *Handlers) HandleListDocuments(c *gin.Context) {
	docs, err := h.store.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILURE"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// HandleCreateDocument handles POST /v1/documents.
func (h *Handlers) HandleCreateDocument(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "create")

	var req persist.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	doc, err := h.controller.Create(c.Request.Context(), &req)
	if err != nil {
		logger.Error("create failed", "document", req.DocumentID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "CREATE_FAILED"})
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// HandleSaveDocument handles POST /v1/documents/:id/save.
//
// Version conflicts map to 409 so clients retry after a refetch.
// Integrity rejections map to 422: they need a human, not a retry.
func (h *Handlers) HandleSaveDocument(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "save")

	var req persist.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	req.DocumentID = c.Param("id")

	doc, err := h.controller.Save(c.Request.Context(), &req)
	if err != nil {
		if rej, ok := persist.AsRejection(err); ok {
			status := http.StatusUnprocessableEntity
			if rej.Retryable() {
				status = http.StatusConflict
			}
			c.JSON(status, ErrorResponse{Error: rej.Message, Code: string(rej.Code), Rejection: rej})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found", Code: "NOT_FOUND"})
			return
		}
		logger.Error("save failed", "document", req.DocumentID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SAVE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleRun handles POST /v1/documents/:id/run.
func (h *Handlers) HandleRun(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "run")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	doc, err := h.store.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found", Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILURE"})
		return
	}

	var result *engine.RunResult
	if req.NodeID != "" {
		result, err = h.scheduler.RunNode(c.Request.Context(), doc, req.SubjectID, req.NodeID)
	} else {
		result, err = h.scheduler.Run(c.Request.Context(), doc, req.SubjectID, engine.Mode(req.Mode))
	}
	if err != nil {
		if engine.IsUnknownNode(err) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_NODE"})
			return
		}
		logger.Error("run failed", "document", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RUN_FAILED"})
		return
	}

	logger.Info("run complete", "document", doc.ID, "subject", req.SubjectID, "executed", len(result.Executed()))
	c.JSON(http.StatusOK, result)
}

// HandleAudit handles GET /v1/documents/:id/audit.
func (h *Handlers) HandleAudit(c *gin.Context) {
	entries, err := h.store.ReadAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILURE"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
