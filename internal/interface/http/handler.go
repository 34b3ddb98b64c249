package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumoqi/trainbase/internal/domain/training"
)

// Handler exposes the training-data pipeline over HTTP.
type Handler struct {
	ingest   *training.IngestService
	retrieve *training.RetrieveService
	export   *training.ExportService
	logger   *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(ingest *training.IngestService, retrieve *training.RetrieveService, export *training.ExportService, logger *slog.Logger) *Handler {
	return &Handler{
		ingest:   ingest,
		retrieve: retrieve,
		export:   export,
		logger:   logger.With("component", "http.handler"),
	}
}

type submitRequest struct {
	Records []training.Pair `json:"records"`
}

// SubmitRecords accepts a batch of training pairs for a model. The batch is
// accepted immediately; vectorization progress shows up in record status.
func (h *Handler) SubmitRecords(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing user", nil))
		return
	}
	modelID, httpErr := pathModelID(c)
	if httpErr != nil {
		abortWithError(c, httpErr)
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "malformed request body", err))
		return
	}
	result, err := h.ingest.Submit(c.Request.Context(), userID, modelID, req.Records)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// ListRecords returns the user's records for a model with optional status filter.
func (h *Handler) ListRecords(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing user", nil))
		return
	}
	modelID, httpErr := pathModelID(c)
	if httpErr != nil {
		abortWithError(c, httpErr)
		return
	}
	filter := training.RecordFilter{
		Statuses: parseStatuses(c.Query("status")),
		Limit:    queryInt(c, "limit", 100),
		Offset:   queryInt(c, "offset", 0),
	}
	records, err := h.ingest.ListRecords(c.Request.Context(), userID, modelID, filter)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records})
}

// DeleteRecord removes a record and its vector entry.
func (h *Handler) DeleteRecord(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing user", nil))
		return
	}
	recordID, err := uuid.Parse(c.Param("recordID"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "record id must be a uuid", err))
		return
	}
	if err := h.ingest.DeleteRecord(c.Request.Context(), userID, recordID); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// Search returns the model's best-matching training pairs for a query.
func (h *Handler) Search(c *gin.Context) {
	if _, ok := getUserID(c); !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing user", nil))
		return
	}
	modelID, httpErr := pathModelID(c)
	if httpErr != nil {
		abortWithError(c, httpErr)
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "malformed request body", err))
		return
	}
	matches, err := h.retrieve.Retrieve(c.Request.Context(), modelID, req.Query, req.TopK)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	if matches == nil {
		matches = []training.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// ExportModel snapshots the model's training pairs into object storage.
func (h *Handler) ExportModel(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing user", nil))
		return
	}
	modelID, httpErr := pathModelID(c)
	if httpErr != nil {
		abortWithError(c, httpErr)
		return
	}
	result, err := h.export.ExportModel(c.Request.Context(), userID, modelID)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// Stats reports record counts per lifecycle status.
func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.ingest.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": counts})
}

func pathModelID(c *gin.Context) (uuid.UUID, *HTTPError) {
	modelID, err := uuid.Parse(c.Param("modelID"))
	if err != nil {
		return uuid.Nil, NewHTTPError(http.StatusBadRequest, "invalid_request", "model id must be a uuid", err)
	}
	return modelID, nil
}

func parseStatuses(raw string) []training.RecordStatus {
	if raw == "" {
		return nil
	}
	var statuses []training.RecordStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			statuses = append(statuses, training.RecordStatus(part))
		}
	}
	return statuses
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
