package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/http/response"
)

const (
	defaultKeepAlive = 30 * time.Second
	writeTimeout     = 60 * time.Second
	// Reconnect delay suggested to EventSource clients.
	retryMillis = 2000
)

// Handler serves the event stream at GET /api/v1/sync/events.
type Handler struct {
	manager   *Manager
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewHandler creates a Handler streaming events from manager.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		logger:    logger,
		keepAlive: defaultKeepAlive,
	}
}

// ServeHTTP replays the backlog the client is owed, then streams live events
// with periodic keepalive comments until either side goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, h.logger)
		return
	}
	if r.Context().Err() != nil {
		return
	}

	lastID, err := parseLastEventID(r)
	if err != nil {
		response.HandleError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	out := &frameWriter{w: w, rc: http.NewResponseController(w), logger: h.logger}
	if err := out.flush(); err != nil {
		h.logger.Error("event stream unsupported", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, domainerrors.CodeInternal, "streaming not supported", h.logger)
		return
	}

	sub, replay := h.manager.Subscribe(lastID)
	defer sub.Close()

	log := h.logger.With(slog.Uint64("last_event_id", lastID))
	log.Debug("event stream opened", slog.Int("replay", len(replay)))

	if err := out.retry(retryMillis); err != nil {
		return
	}
	for _, evt := range replay {
		if err := out.event(evt); err != nil {
			log.Debug("client gone during replay")
			return
		}
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case evt := <-sub.Events():
			if err := out.event(evt); err != nil {
				log.Debug("client gone", slog.Uint64("event_id", evt.ID))
				return
			}
		case <-keepAlive.C:
			if err := out.comment("keepalive"); err != nil {
				return
			}
		case <-sub.Done():
			log.Debug("event stream closed by server")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// parseLastEventID reads the resume point from the Last-Event-ID header or,
// for clients that cannot set headers, the lastEventId query parameter.
func parseLastEventID(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, domainerrors.Validationf("invalid Last-Event-ID %q", raw)
	}
	return n, nil
}

// frameWriter writes text/event-stream frames, flushing after each one.
type frameWriter struct {
	w      io.Writer
	rc     *http.ResponseController
	logger *slog.Logger
}

func (f *frameWriter) event(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(f.w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data); err != nil {
		return err
	}
	return f.flush()
}

func (f *frameWriter) comment(text string) error {
	if _, err := fmt.Fprintf(f.w, ": %s\n\n", text); err != nil {
		return err
	}
	return f.flush()
}

func (f *frameWriter) retry(millis int) error {
	if _, err := fmt.Fprintf(f.w, "retry: %d\n\n", millis); err != nil {
		return err
	}
	return f.flush()
}

func (f *frameWriter) flush() error {
	if err := f.rc.Flush(); err != nil {
		return err
	}
	// Not every ResponseWriter supports deadlines.
	if err := f.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		f.logger.Debug("write deadline unsupported", slog.String("error", err.Error()))
	}
	return nil
}
