package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notepad/internal/notes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	timestampParam           = "timestamp"
	defaultHeartbeatInterval = 25 * time.Second
)

var errMissingNotesService = errors.New("notes service dependency required")

type Dependencies struct {
	NotesService      *notes.Service
	Dispatcher        *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		notesService:      deps.NotesService,
		dispatcher:        dispatcher,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/", handler.handleHealth)
	router.GET("/tags", handler.handleListTags)

	for _, collection := range []string{"/notes", "/notes/"} {
		router.POST(collection, handler.handleCreateNote)
		router.GET(collection, handler.handleNotesInRange)
	}
	router.GET("/notes/all", handler.handleListNotes)
	router.GET("/notes/filter", handler.handleFilterNotes)
	router.GET("/notes/stream", handler.handleNotesStream)
	router.GET("/notes/:"+timestampParam, handler.handleGetNote)
	router.PUT("/notes/:"+timestampParam, handler.handleUpdateNote)
	router.DELETE("/notes/:"+timestampParam, handler.handleDeleteNote)
	router.GET("/notes/:"+timestampParam+"/history", handler.handleNoteHistory)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			origins = nil
			break
		}
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	notesService      *notes.Service
	dispatcher        *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

type draftPayload struct {
	Title    string `json:"title"`
	Contents string `json:"contents"`
	Tags     string `json:"tags"`
}

type notePayload struct {
	Timestamp string   `json:"timestamp"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Contents  string   `json:"contents"`
	Tags      []string `json:"tags"`
}

type changePayload struct {
	ChangeID         string `json:"change_id"`
	Operation        string `json:"operation"`
	AppliedAtSeconds int64  `json:"applied_at_s"`
	Title            string `json:"title"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "Notepad API is running"})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	draft, ok := bindDraft(c)
	if !ok {
		return
	}
	note, err := h.notesService.Create(c.Request.Context(), draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayload(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	timestamp, ok := h.bindTimestamp(c, c.Param(timestampParam))
	if !ok {
		return
	}
	draft, ok := bindDraft(c)
	if !ok {
		return
	}
	note, err := h.notesService.Update(c.Request.Context(), timestamp, draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayload(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	timestamp, ok := h.bindTimestamp(c, c.Param(timestampParam))
	if !ok {
		return
	}
	note, err := h.notesService.Get(c.Request.Context(), timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayload(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	timestamp, ok := h.bindTimestamp(c, c.Param(timestampParam))
	if !ok {
		return
	}
	found, err := h.notesService.Delete(c.Request.Context(), timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Note deleted successfully"})
}

func (h *httpHandler) handleNotesInRange(c *gin.Context) {
	rawStart, hasStart := c.GetQuery("start")
	rawEnd, hasEnd := c.GetQuery("end")
	if !hasStart || !hasEnd {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
		return
	}
	start, ok := h.bindTimestamp(c, rawStart)
	if !ok {
		return
	}
	end, ok := h.bindTimestamp(c, rawEnd)
	if !ok {
		return
	}
	result, err := h.notesService.GetRange(c.Request.Context(), start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayloads(result))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	result, err := h.notesService.GetAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayloads(result))
}

func (h *httpHandler) handleFilterNotes(c *gin.Context) {
	requested := make([]string, 0)
	for _, value := range c.QueryArray("tags") {
		requested = append(requested, strings.Split(value, ",")...)
	}
	result, err := h.notesService.FilterByTags(c.Request.Context(), requested)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toPayloads(result))
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	tags, err := h.notesService.ListAllTags(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (h *httpHandler) handleNoteHistory(c *gin.Context) {
	timestamp, ok := h.bindTimestamp(c, c.Param(timestampParam))
	if !ok {
		return
	}
	records, err := h.notesService.History(c.Request.Context(), timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]changePayload, 0, len(records))
	for _, record := range records {
		response = append(response, changePayload{
			ChangeID:         record.ChangeID,
			Operation:        string(record.Operation),
			AppliedAtSeconds: record.AppliedAtSeconds,
			Title:            record.Title,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleNotesStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": time.Now().UTC().Unix()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, gin.H{
				"source":    realtimeSourceBackend,
				"note_keys": message.NoteKeys,
				"timestamp": message.Timestamp.UTC().Unix(),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": tick.UTC().Unix()})
			return true
		}
	})
}

func bindDraft(c *gin.Context) (notes.Draft, bool) {
	var request draftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return notes.Draft{}, false
	}
	if strings.TrimSpace(request.Contents) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note"})
		return notes.Draft{}, false
	}
	return notes.Draft{Title: request.Title, Contents: request.Contents, Tags: request.Tags}, true
}

func (h *httpHandler) bindTimestamp(c *gin.Context, raw string) (time.Time, bool) {
	timestamp, err := h.notesService.Codec().ParseTimestamp(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
		return time.Time{}, false
	}
	return timestamp, true
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	label := "internal_error"
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		status, label = http.StatusNotFound, "not_found"
	case errors.Is(err, notes.ErrInvalidDraft):
		status, label = http.StatusBadRequest, "invalid_note"
	case errors.Is(err, notes.ErrInvalidRange):
		status, label = http.StatusBadRequest, "invalid_range"
	case errors.Is(err, notes.ErrCorruptRecord):
		label = "corrupt_record"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("note request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	body := gin.H{"error": label}
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

func (h *httpHandler) toPayload(note notes.Note) notePayload {
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}
	return notePayload{
		Timestamp: h.notesService.Codec().FormatTimestamp(note.Timestamp),
		Title:     note.Title,
		Summary:   note.Summary,
		Contents:  note.Contents,
		Tags:      tags,
	}
}

func (h *httpHandler) toPayloads(result []notes.Note) []notePayload {
	response := make([]notePayload, 0, len(result))
	for _, note := range result {
		response = append(response, h.toPayload(note))
	}
	return response
}
