package house

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Read-only observer feed; no state can be mutated over it.
		return true
	},
}

// FeedEvent is one entry on the observer stream.
type FeedEvent struct {
	Kind        string    `json:"kind"`
	ItemID      int64     `json:"item_id"`
	Description string    `json:"description,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Feed is a read-only websocket stream of auction events for operator
// dashboards. It mirrors the agent notification traffic but carries no
// account information and accepts no input.
type Feed struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]chan FeedEvent
}

// NewFeed creates an observer feed.
func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		logger:  logger,
		clients: make(map[uuid.UUID]chan FeedEvent),
	}
}

// Publish fans an event out to every observer. Slow observers drop
// events rather than block the auction path.
func (f *Feed) Publish(ev FeedEvent) {
	ev.Timestamp = time.Now()
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishNotification converts an agent notification into an observer
// event. Called by the notifier wrapper on every push.
func (f *Feed) PublishNotification(n protocol.BidStatusNotification) {
	f.Publish(FeedEvent{
		Kind:        n.Status,
		ItemID:      n.ItemID,
		Description: n.ItemDescription,
		Amount:      n.FinalPrice.String(),
	})
}

// ServeHTTP upgrades the connection and streams events until the
// client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.New()
	ch := make(chan FeedEvent, 64)
	f.mu.Lock()
	f.clients[id] = ch
	f.mu.Unlock()

	f.logger.Info("observer connected",
		zap.String("client_id", id.String()),
		zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		f.mu.Lock()
		delete(f.clients, id)
		f.mu.Unlock()
		conn.Close()
	}()

	// Discard inbound frames; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			f.logger.Debug("observer write failed",
				zap.String("client_id", id.String()),
				zap.Error(err))
			return
		}
	}
}

// OpsServer serves the operator HTTP surface: prometheus metrics and
// the observer event feed.
type OpsServer struct {
	server *http.Server
}

// NewOpsServer builds the ops mux for a house.
func NewOpsServer(addr string, feed *Feed) *OpsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws/events", feed)
	return &OpsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves in the background until Stop or listen failure.
func (o *OpsServer) Start(errFn func(error)) {
	go func() {
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errFn(err)
		}
	}()
}

// Stop shuts the ops server down gracefully.
func (o *OpsServer) Stop(ctx context.Context) error {
	return o.server.Shutdown(ctx)
}
