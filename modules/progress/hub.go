package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	sendBuffer        = 64
	expiredThreshold  = 24 * time.Hour
	inactiveThreshold = 2 * time.Hour
)

// Event types
const (
	EventSceneStarted   = "scene_started"
	EventSceneCompleted = "scene_completed"
	EventSceneFailed    = "scene_failed"
	EventBatchCompleted = "batch_completed"
	EventPong           = "pong"
)

// Event - one progress message pushed to every client watching a generation session
type Event struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId"`
	SceneID     string    `json:"sceneId,omitempty"`
	SceneNumber int       `json:"sceneNumber"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	Completed   int       `json:"completed,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	Total       int       `json:"total,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	session *session
}

type session struct {
	id           string
	owner        string // user whose batch publishes here, set by the first Publish
	clients      map[string]*client
	mu           sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
}

// Stats - hub counters exposed on /progress/stats
type Stats struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	CurrentClients   int       `json:"currentClients"`
	EventsPublished  int       `json:"eventsPublished"`
	StartTime        time.Time `json:"startTime"`
}

// TokenVerifier - resolves an access token to its user id
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Hub - generation sessions keyed by the sessionId the client sends with its request
type Hub struct {
	sessions map[string]*session
	mu       sync.RWMutex
	stats    Stats
	verifier TokenVerifier
}

func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		stats:    Stats{StartTime: time.Now()},
		verifier: verifier,
	}
}

// attach - find or create the session and add the client in one step, so Cleanup
// never sees the new session empty. False when the session belongs to another user.
func (h *Hub) attach(sessionID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[sessionID]
	if !exists {
		now := time.Now()
		s = &session{
			id:           sessionID,
			clients:      make(map[string]*client),
			createdAt:    now,
			lastActivity: now,
		}
		h.sessions[sessionID] = s
		h.stats.TotalSessions++
		log.Debug().Str("session", sessionID).Msg("✅ [Progress] Created session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" && s.owner != c.userID {
		return false
	}
	if old, exists := s.clients[c.userID]; exists {
		close(old.send)
	}
	c.session = s
	s.clients[c.userID] = c
	s.lastActivity = time.Now()
	h.stats.TotalConnections++
	return true
}

// ownedByOther - whether the session is already claimed by a different user
func (h *Hub) ownedByOther(sessionID, userID string) bool {
	h.mu.RLock()
	s, exists := h.sessions[sessionID]
	h.mu.RUnlock()
	if !exists {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner != "" && s.owner != userID
}

func (s *session) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, exists := s.clients[c.userID]; exists && current == c {
		close(c.send)
		delete(s.clients, c.userID)
		s.lastActivity = time.Now()
		log.Debug().Str("session", s.id).Str("user", c.userID).Int("remaining", len(s.clients)).Msg("👋 [Progress] Client left")
	}
}

// broadcast - deliver to the owner's clients only; the first publisher claims the session
func (s *session) broadcast(ownerID string, message []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == "" {
		s.owner = ownerID
	}
	if s.owner != ownerID {
		return false
	}
	s.lastActivity = time.Now()
	for userID, c := range s.clients {
		if userID != s.owner {
			log.Warn().Str("session", s.id).Str("user", userID).Msg("🚫 [Progress] Dropping subscriber of another user's session")
			close(c.send)
			delete(s.clients, userID)
			continue
		}
		select {
		case c.send <- message:
		default:
			// slow consumer
			close(c.send)
			delete(s.clients, userID)
		}
	}
	return true
}

// Publish - push an event to the owner's clients in the session; no-op when nobody is watching
// ownerID is the user who started the batch.
func (h *Hub) Publish(sessionID, ownerID string, ev Event) {
	if h == nil || sessionID == "" || ownerID == "" {
		return
	}
	h.mu.RLock()
	s, exists := h.sessions[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	ev.SessionID = sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	message, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("❌ [Progress] Failed to marshal event")
		return
	}
	if !s.broadcast(ownerID, message) {
		log.Warn().Str("session", sessionID).Str("user", ownerID).Msg("🚫 [Progress] Session belongs to another user, event dropped")
		return
	}

	h.mu.Lock()
	h.stats.EventsPublished++
	h.mu.Unlock()
}

// ClientCount - connected clients in a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	s, exists := h.sessions[sessionID]
	h.mu.RUnlock()
	if !exists {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stats - snapshot of hub counters
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := h.stats
	st.ActiveSessions = len(h.sessions)
	for _, s := range h.sessions {
		s.mu.Lock()
		st.CurrentClients += len(s.clients)
		s.mu.Unlock()
	}
	return st
}

// Cleanup - drop empty sessions, and sessions past their lifetime
func (h *Hub) Cleanup(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleaned := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		empty := len(s.clients) == 0
		expired := now.Sub(s.createdAt) > expiredThreshold
		inactive := empty && now.Sub(s.lastActivity) > inactiveThreshold
		if expired {
			for userID, c := range s.clients {
				close(c.send)
				delete(s.clients, userID)
			}
		}
		s.mu.Unlock()

		if empty || expired || inactive {
			delete(h.sessions, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Info().Int("cleaned", cleaned).Int("active", len(h.sessions)).Msg("🧹 [Progress] Cleaned up sessions")
	}
	return cleaned
}

// StartCleanupRoutine - periodic Cleanup until ctx is done
func (h *Hub) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.Cleanup(now)
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("🔄 [Progress] Started session cleanup routine")
}

// HandleWebSocket - GET /ws/generation?session=...&token=<access token>
// The token may also come as an Authorization bearer header.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter is required", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" || h.verifier == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("🔒 [Progress] Rejected WebSocket token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.ownedByOther(sessionID, userID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ [Progress] WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	if !h.attach(sessionID, c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session belongs to another user"))
		conn.Close()
		return
	}
	log.Debug().Str("session", sessionID).Str("user", userID).Msg("🔍 [Progress] New WebSocket connection")

	go c.writePump()
	go c.readPump(c.session)
}

// HandleStats - GET /progress/stats
func (h *Hub) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Stats())
}

type inbound struct {
	Type string `json:"type"`
}

func (c *client) readPump(s *session) {
	defer func() {
		s.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("⚠️ [Progress] WebSocket error")
			}
			return
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(Event{Type: EventPong, SessionID: s.id, Timestamp: time.Now()})
			s.mu.Lock()
			if s.clients[c.userID] == c {
				select {
				case c.send <- pong:
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
