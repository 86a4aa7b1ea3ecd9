package handlers

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiontrack/internal/models"
	"sessiontrack/internal/tracker"
)

const (
	EventBanner   = "banner"
	EventLogout   = "logout"
	EventRedirect = "redirect"

	subscriberBuffer = 32
	keepAlive        = 25 * time.Second
)

// PageEvent is one presenter call as streamed to the page.
type PageEvent struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// EventHub implements tracker.Presenter by fanning events out to SSE
// subscribers. It remembers the last logout message and redirect so a page
// that connects late still learns the session ended.
type EventHub struct {
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	subs     map[chan PageEvent]struct{}
	logout   *PageEvent
	redirect *PageEvent
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		log:  log,
		now:  time.Now,
		subs: make(map[chan PageEvent]struct{}),
	}
}

var _ tracker.Presenter = (*EventHub)(nil)

func (h *EventHub) ShowBanner(message string, kind models.NoticeType) {
	h.log.Info().Str("type", string(kind)).Str("message", message).Msg("banner")
	h.publish(EventBanner, gin.H{"message": message, "type": kind})
}

func (h *EventHub) ShowLogoutMessage(message string) {
	h.log.Warn().Str("message", message).Msg("logout message")
	h.publish(EventLogout, gin.H{"message": message})
}

func (h *EventHub) Redirect(target string) {
	h.log.Info().Str("target", target).Msg("redirect")
	h.publish(EventRedirect, gin.H{"target": target})
}

func (h *EventHub) Emit(event tracker.Event, payload any) {
	h.log.Debug().Str("event", string(event)).Msg("page event")
	h.publish(string(event), payload)
}

func (h *EventHub) publish(name string, payload any) {
	ev := PageEvent{Name: name, Payload: payload, At: h.now()}

	h.mu.Lock()
	switch name {
	case EventLogout:
		h.logout = &ev
	case EventRedirect:
		h.redirect = &ev
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("event", name).Msg("slow event subscriber, event dropped")
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel of events and a cancel func. Pending logout
// and redirect events are replayed first.
func (h *EventHub) Subscribe() (<-chan PageEvent, func()) {
	ch := make(chan PageEvent, subscriberBuffer)
	h.mu.Lock()
	for _, ev := range []*PageEvent{h.logout, h.redirect} {
		if ev != nil {
			ch <- *ev
		}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Reset forgets the remembered logout and redirect, used when a new
// session starts.
func (h *EventHub) Reset() {
	h.mu.Lock()
	h.logout = nil
	h.redirect = nil
	h.mu.Unlock()
}

// Pending returns the remembered logout and redirect events.
func (h *EventHub) Pending() []PageEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []PageEvent
	for _, ev := range []*PageEvent{h.logout, h.redirect} {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// Stream serves the hub as text/event-stream until the client goes away.
func (h *EventHub) Stream(c *gin.Context) {
	events, cancel := h.Subscribe()
	defer cancel()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev := <-events:
			c.SSEvent(ev.Name, ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": h.now()})
			return true
		}
	})
}
