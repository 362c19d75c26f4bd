package house

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// Server accepts agent connections. Each connection gets a reader
// (the handler goroutine) and a writer (the session's WritePump); the
// reply to every request travels through the session channel so it
// serializes with asynchronous notifications.
type Server struct {
	catalog *Catalog
	hub     *Hub
	logger  *slog.Logger
	zlog    *zap.Logger
	// ReadTimeout for agent connections; zero means none (agents may
	// idle between bids indefinitely).
	readTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewServer creates the agent-facing server for a house.
func NewServer(catalog *Catalog, hub *Hub, readTimeout time.Duration, logger *slog.Logger, zlog *zap.Logger) *Server {
	return &Server{
		catalog:     catalog,
		hub:         hub,
		readTimeout: readTimeout,
		logger:      logger,
		zlog:        zlog,
	}
}

// Serve starts accepting on the already-bound listener. The listener
// is bound by the caller before bank registration so the resolved
// port can be advertised.
func (s *Server) Serve(ctx context.Context, listener net.Listener) {
	s.listener = listener
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.acceptLoop(ctx)
}

// Stop closes the listener and all sessions, then waits for handlers.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.hub.CloseAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	codec := protocol.NewCodec(conn)
	session := NewSession(codec)
	defer s.hub.Remove(session)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		session.WritePump(s.zlog)
	}()

	logger := s.logger.With("remote", codec.RemoteAddr(), "session_id", session.ID.String())
	logger.Debug("agent connected")

	for {
		var deadline time.Time
		if s.readTimeout > 0 {
			deadline = time.Now().Add(s.readTimeout)
		}
		msg, err := codec.Read(deadline)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !session.Closed() {
				logger.Debug("agent read failed", "error", err)
			}
			return
		}

		reply := s.dispatch(session, msg, logger)
		if !session.Send(reply) {
			return
		}
	}
}

func (s *Server) dispatch(session *Session, msg protocol.Message, logger *slog.Logger) protocol.Message {
	switch msg.Type {
	case protocol.TypeGetItems:
		return protocol.MustMessage(protocol.TypeGetItemsResponse, protocol.GetItemsResponse{
			Success: true,
			Items:   s.catalog.Snapshot(),
		})

	case protocol.TypePlaceBid:
		return s.handlePlaceBid(session, msg)

	case protocol.TypeConfirmWinner:
		return s.handleConfirmWinner(msg)

	default:
		logger.Warn("unknown message type", "type", msg.Type)
		return protocol.MustMessage(protocol.TypeError, protocol.GenericResponse{
			Success: false,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

func (s *Server) handlePlaceBid(session *Session, msg protocol.Message) protocol.Message {
	var req protocol.PlaceBidRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return protocol.MustMessage(protocol.TypePlaceBidResponse, protocol.PlaceBidResponse{
			Success: false,
			Status:  protocol.BidRejected,
			Message: domainerrors.UserMessage(err),
		})
	}

	// The request payload carries the agent's account id; bind the
	// session now so outbid and winner notifications can reach it.
	s.hub.Bind(session, req.AgentID)

	status, message, err := s.catalog.PlaceBid(req.ItemID, req.AgentID, req.Amount)
	if err != nil {
		return protocol.MustMessage(protocol.TypePlaceBidResponse, protocol.PlaceBidResponse{
			Success: false,
			Status:  protocol.BidRejected,
			Message: domainerrors.UserMessage(err),
		})
	}
	return protocol.MustMessage(protocol.TypePlaceBidResponse, protocol.PlaceBidResponse{
		Success: status == protocol.BidAccepted,
		Status:  status,
		Message: message,
		Amount:  req.Amount,
	})
}

func (s *Server) handleConfirmWinner(msg protocol.Message) protocol.Message {
	var req protocol.ConfirmWinnerRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return protocol.MustMessage(protocol.TypeConfirmWinnerResponse, protocol.GenericResponse{
			Success: false,
			Message: domainerrors.UserMessage(err),
		})
	}
	if err := s.catalog.ConfirmWinner(req.ItemID, req.AgentID); err != nil {
		return protocol.MustMessage(protocol.TypeConfirmWinnerResponse, protocol.GenericResponse{
			Success: false,
			Message: domainerrors.UserMessage(err),
		})
	}
	return protocol.MustMessage(protocol.TypeConfirmWinnerResponse, protocol.GenericResponse{
		Success: true,
		Message: "sale confirmed",
	})
}
