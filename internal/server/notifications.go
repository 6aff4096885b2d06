package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

// Notifications fans notifications out to the SSE streams of their user.
// Delivery is best effort: a subscriber whose buffer is full misses the
// message, which is still logged.
type Notifications struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan ports.Notification]struct{}
}

var _ ports.Notifier = (*Notifications)(nil)

// NewNotifications creates an empty hub.
func NewNotifications(logger *slog.Logger) *Notifications {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifications{logger: logger, subs: make(map[string]map[chan ports.Notification]struct{})}
}

// Notify logs n and delivers it to the user's open streams.
func (h *Notifications) Notify(ctx context.Context, n ports.Notification) {
	level := slog.LevelInfo
	if n.Level == ports.LevelError {
		level = slog.LevelWarn
	}
	h.logger.LogAttrs(ctx, level, "user notification",
		slog.String("user", n.UserID),
		slog.String("kind", n.Kind),
		slog.String("message", n.Message))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe opens a stream for userID. The returned func closes it.
func (h *Notifications) Subscribe(userID string) (<-chan ports.Notification, func()) {
	ch := make(chan ports.Notification, 16)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan ports.Notification]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
}

// Subscribers returns the number of open streams for userID.
func (h *Notifications) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// sseKeepAlive is how often an idle stream sends a comment line.
var sseKeepAlive = 25 * time.Second

// eventStream writes Server-Sent Events to one client.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
