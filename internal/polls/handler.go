package polls

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/auth"
	"github.com/charpoll/backend/internal/middleware"
	"github.com/charpoll/backend/internal/poll"
	"github.com/charpoll/backend/internal/realtime"
	"github.com/charpoll/backend/pkg/queue"
	"github.com/charpoll/backend/pkg/response"
	"github.com/charpoll/backend/pkg/storage"
)

// requestTimeout bounds every controller call made on behalf of an HTTP request.
const requestTimeout = 10 * time.Second

// Controller is the subset of *poll.Controller the handlers drive.
type Controller interface {
	Start(ctx context.Context, req poll.StartRequest) error
	Stop(ctx context.Context) (bool, error)
	MarkWinner(ctx context.Context, number int) (string, error)
	Snapshot(ctx context.Context) (poll.Snapshot, error)
}

// VoteQueue hands website votes to the background worker.
type VoteQueue interface {
	EnqueueWebsiteVote(ctx context.Context, payload queue.WebsiteVotePayload) error
}

// ImageUploader stores option images. *storage.S3 implements it.
type ImageUploader interface {
	UploadOptionImage(ctx context.Context, n int, contentType string, body io.Reader, contentLength int64) (string, error)
}

// StartRequest is the body for POST /admin/poll/start.
// Either Options (12 labels) or Characters ("♂️Name ♀️Name ...") must be set.
type StartRequest struct {
	Days       int      `json:"days" binding:"required,min=1"`
	Options    []string `json:"options"`
	Characters string   `json:"characters"`
}

// WinnerRequest is the body for POST /admin/poll/winners.
type WinnerRequest struct {
	Number int `json:"number" binding:"required"`
}

// VoteRequest is the body for POST /website/votes.
type VoteRequest struct {
	VoterID string `json:"voter_id" binding:"required"`
	Option  int    `json:"option" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	ctrl   Controller
	votes  VoteQueue
	images ImageUploader
	pollID string
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates a polls handler. images may be nil when no bucket is configured.
func NewHandler(ctrl Controller, votes VoteQueue, images ImageUploader, pollID string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ctrl: ctrl, votes: votes, images: images, pollID: pollID, now: time.Now, logger: logger}
}

// RegisterRoutes mounts the public, website and admin routes.
func (h *Handler) RegisterRoutes(r gin.IRouter, jwt *auth.JWTService) {
	r.GET("/poll/scores", h.Scores)

	website := r.Group("/website", middleware.JWT(jwt), middleware.RequireRole(auth.RoleWebsite))
	website.POST("/votes", h.SubmitVote)

	admin := r.Group("/admin/poll", middleware.JWT(jwt), middleware.RequireRole(auth.RoleAdmin))
	admin.POST("/start", h.Start)
	admin.POST("/stop", h.Stop)
	admin.POST("/winners", h.MarkWinner)
	admin.PUT("/options/:number/image", h.UploadImage)
}

// Scores handles GET /poll/scores (public).
func (h *Handler) Scores(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	snap, err := h.ctrl.Snapshot(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, realtime.NewScoreboard(snap))
}

// Start handles POST /admin/poll/start.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	labels := req.Options
	if len(labels) == 0 {
		labels = ParseCharacters(req.Characters)
	}
	if len(labels) != poll.OptionCount {
		response.BadRequest(c, "exactly 12 characters required, got "+strconv.Itoa(len(labels)))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	err := h.ctrl.Start(ctx, poll.StartRequest{
		Labels:   labels,
		Duration: time.Duration(req.Days) * 24 * time.Hour,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("poll started",
		zap.String("by", c.GetString(middleware.ContextSubject)),
		zap.Int("days", req.Days),
		zap.String("options", strings.Join(labels, " • ")),
	)
	response.OK(c, gin.H{"started": true, "days": req.Days, "options": labels})
}

// Stop handles POST /admin/poll/stop.
func (h *Handler) Stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	stopped, err := h.ctrl.Stop(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !stopped {
		response.NotFound(c, poll.ErrNoActivePoll.Error())
		return
	}
	h.logger.Info("poll stopped", zap.String("by", c.GetString(middleware.ContextSubject)))
	response.OK(c, gin.H{"stopped": true})
}

// MarkWinner handles POST /admin/poll/winners.
func (h *Handler) MarkWinner(c *gin.Context) {
	var req WinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	announcement, err := h.ctrl.MarkWinner(ctx, req.Number)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"number": req.Number, "announcement": announcement})
}

// SubmitVote handles POST /website/votes. The vote is stored by the worker.
func (h *Handler) SubmitVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Option < 1 || req.Option > poll.OptionCount {
		response.BadRequest(c, poll.ErrInvalidOption.Error())
		return
	}
	payload := queue.WebsiteVotePayload{
		PollID:  h.pollID,
		VoterID: req.VoterID,
		Option:  req.Option,
		CastAt:  h.now(),
	}
	if err := h.votes.EnqueueWebsiteVote(c.Request.Context(), payload); err != nil {
		h.logger.Error("enqueue website vote failed", zap.Error(err), zap.String("voter_id", req.VoterID))
		response.ServiceUnavailable(c, "vote queue unavailable")
		return
	}
	response.Accepted(c, gin.H{"poll_id": h.pollID, "option": req.Option})
}

// UploadImage handles PUT /admin/poll/options/:number/image (multipart field "file").
func (h *Handler) UploadImage(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage not configured")
		return
	}
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 || n > poll.OptionCount {
		response.BadRequest(c, poll.ErrInvalidOption.Error())
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	if file.Size > storage.MaxImageFileSize {
		response.BadRequest(c, "file size exceeds 8MB limit")
		return
	}
	contentType := file.Header.Get("Content-Type")
	if !storage.ValidateImageType(contentType, file.Filename) {
		response.BadRequest(c, "invalid file type: only jpg, png, webp and gif allowed")
		return
	}
	if ct, ok := storage.AllowedImageExtensions[strings.ToLower(path.Ext(file.Filename))]; ok {
		contentType = ct
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	url, err := h.images.UploadOptionImage(c.Request.Context(), n, contentType, rc, file.Size)
	if err != nil {
		h.logger.Error("option image upload failed", zap.Error(err), zap.Int("option", n))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	response.OK(c, gin.H{"option": n, "url": url, "file_size": file.Size})
}

// fail maps controller errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, poll.ErrOptionCount),
		errors.Is(err, poll.ErrInvalidDuration),
		errors.Is(err, poll.ErrInvalidOption):
		response.BadRequest(c, err.Error())
	case errors.Is(err, poll.ErrNoActivePoll):
		response.NotFound(c, err.Error())
	case errors.Is(err, poll.ErrPollActive):
		response.Conflict(c, err.Error())
	case errors.Is(err, poll.ErrChannelUnreachable),
		errors.Is(err, poll.ErrControllerClosed):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, "poll controller busy, retry shortly")
	default:
		h.logger.Error("poll operation failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "poll operation failed")
	}
}
