package interfaces

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bulletin-verifier/domain"
	"bulletin-verifier/service"
)

type HTTPHandler struct {
	Verifier *service.Verifier
}

func NewHTTPHandler(router *gin.Engine, verifier *service.Verifier) {
	h := &HTTPHandler{Verifier: verifier}

	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	api.GET("/candidates/:folder/status", h.GetStatus)
	api.POST("/candidates/:folder/verify", h.Verify)
	api.GET("/candidates/:folder/detection", h.GetDetection)
	api.GET("/candidates/:folder/verdicts", h.ListVerdicts)
	api.GET("/candidates/:folder/runs", h.ListRuns)
	api.GET("/verifications/:id", h.GetRun)
}

// RequestLogger logs one line per request with the route, status and latency.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("HTTP request")
	}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus answers whether the folder has been verified. A folder without
// records is not an error.
func (h *HTTPHandler) GetStatus(c *gin.Context) {
	folder, ok := folderParam(c)
	if !ok {
		return
	}
	st, err := h.Verifier.Status(c.Request.Context(), folder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Verify queues a verification when a queue is configured, otherwise it runs
// the verification inline. ?wait=true forces the inline path.
func (h *HTTPHandler) Verify(c *gin.Context) {
	folder, ok := folderParam(c)
	if !ok {
		return
	}

	if c.Query("wait") != "true" {
		runID, err := h.Verifier.Submit(c.Request.Context(), folder)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{
				"run_id": runID,
				"status": domain.RunQueued,
			})
			return
		case !errors.Is(err, service.ErrNoQueue):
			writeError(c, err)
			return
		}
	}

	out := h.Verifier.Verify(c.Request.Context(), folder)
	if out.Err != nil {
		c.JSON(statusFor(out.Err), gin.H{
			"error":   out.Err.Error(),
			"kind":    out.ErrorKind,
			"outcome": out,
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) GetDetection(c *gin.Context) {
	folder, ok := folderParam(c)
	if !ok {
		return
	}
	d, err := h.Verifier.Detect(c.Request.Context(), folder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListVerdicts returns every readable verdict of the folder, newest first.
func (h *HTTPHandler) ListVerdicts(c *gin.Context) {
	folder, ok := folderParam(c)
	if !ok {
		return
	}
	history, err := h.Verifier.History(c.Request.Context(), folder)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]gin.H, 0, len(history))
	for _, sv := range history {
		items = append(items, gin.H{
			"record_location": sv.Location,
			"verdict":         sv.Verdict,
		})
	}
	c.JSON(http.StatusOK, gin.H{"verdicts": items, "count": len(items)})
}

// ListRuns returns the indexed runs of the folder. ?limit defaults to 20.
func (h *HTTPHandler) ListRuns(c *gin.Context) {
	folder, ok := folderParam(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	runs, err := h.Verifier.Runs(c.Request.Context(), folder, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *HTTPHandler) GetRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	run, err := h.Verifier.Run(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// folderParam keeps only the last path element so a request cannot reach
// outside the candidatures root.
func folderParam(c *gin.Context) (string, bool) {
	folder := filepath.Base(strings.TrimSpace(c.Param("folder")))
	if folder == "" || folder == "." || folder == ".." || folder == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid folder"})
		return "", false
	}
	return folder, true
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFolderNotFound), errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFolderBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInputMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoRunIndex):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
