package house

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/distributed-auction-network/internal/metrics"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

const sessionSendBuffer = 64

// Session is the house-side handle for one connected agent: the
// outbound channel that carries both replies and notifications, and
// one writer goroutine that drains it. All sends on the connection go
// through the channel, so frames never interleave.
type Session struct {
	ID    uuid.UUID
	codec *protocol.Codec

	mu        sync.Mutex
	accountID int64
	bound     bool

	out  chan protocol.Message
	done chan struct{}
	once sync.Once
}

// NewSession wraps a connection codec. The account id is not yet
// known; it is bound on the first PLACE_BID.
func NewSession(codec *protocol.Codec) *Session {
	return &Session{
		ID:    uuid.New(),
		codec: codec,
		out:   make(chan protocol.Message, sessionSendBuffer),
		done:  make(chan struct{}),
	}
}

// WritePump drains the outbound channel onto the wire. It is the only
// writer on the connection. Returns when the session closes or a
// write fails.
func (s *Session) WritePump(logger *zap.Logger) {
	for {
		select {
		case msg := <-s.out:
			if err := s.codec.Write(msg); err != nil {
				logger.Debug("session write failed",
					zap.String("session_id", s.ID.String()),
					zap.Error(err))
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Send enqueues a frame for delivery. A full buffer or a closed
// session drops the frame and reports failure; the hub prunes the
// session on the next broadcast.
func (s *Session) Send(msg protocol.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		s.close()
		return false
	}
}

// AccountID returns the bound agent account id, or false if no
// PLACE_BID has identified the session yet.
func (s *Session) AccountID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID, s.bound
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.codec.Close()
	})
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub indexes live sessions by agent account id and fans notifications
// out to them. Dead sessions are collected and removed after each
// broadcast walk.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	logger   *zap.Logger
}

// NewHub creates an empty session hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[int64]*Session),
		logger:   logger,
	}
}

// Bind registers the session under the agent's account id. A second
// connection for the same account replaces the first.
func (h *Hub) Bind(s *Session, accountID int64) {
	s.mu.Lock()
	alreadyBound := s.bound && s.accountID == accountID
	prevAccountID := s.accountID
	wasBound := s.bound
	s.accountID = accountID
	s.bound = true
	s.mu.Unlock()
	if alreadyBound {
		return
	}

	h.mu.Lock()
	// A session switching ids must stop receiving the old account's
	// notifications immediately, not at the next prune.
	if wasBound {
		if cur, ok := h.sessions[prevAccountID]; ok && cur == s {
			delete(h.sessions, prevAccountID)
		}
	}
	prev, had := h.sessions[accountID]
	h.sessions[accountID] = s
	h.mu.Unlock()

	if had && prev != s {
		prev.close()
	}
	metrics.ActiveSessions.Set(float64(h.count()))
	h.logger.Info("agent session bound",
		zap.String("session_id", s.ID.String()),
		zap.Int64("account_id", accountID))
}

// Remove drops a session, e.g. on disconnect.
func (h *Hub) Remove(s *Session) {
	s.close()
	accountID, bound := s.AccountID()
	if !bound {
		return
	}
	h.mu.Lock()
	if cur, ok := h.sessions[accountID]; ok && cur == s {
		delete(h.sessions, accountID)
	}
	h.mu.Unlock()
	metrics.ActiveSessions.Set(float64(h.count()))
}

// Notify pushes a notification to one agent if it has a live session.
func (h *Hub) Notify(accountID int64, n protocol.BidStatusNotification) {
	h.mu.RLock()
	s, ok := h.sessions[accountID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("no session for notification",
			zap.Int64("account_id", accountID),
			zap.String("status", n.Status))
		return
	}
	if !s.Send(protocol.MustMessage(protocol.TypeBidStatus, n)) {
		h.Remove(s)
	}
}

// Broadcast walks every session and sends the same notification.
func (h *Hub) Broadcast(n protocol.BidStatusNotification) {
	msg := protocol.MustMessage(protocol.TypeBidStatus, n)

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var dead []*Session
	for _, s := range targets {
		if !s.Send(msg) {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.Remove(s)
	}
}

// CloseAll tears down every session. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[int64]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	metrics.ActiveSessions.Set(0)
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
