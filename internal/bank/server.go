package bank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	domainerrors "github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/metrics"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// ServerConfig carries the bank server's tunables.
type ServerConfig struct {
	Addr string
	// ReadTimeout bounds how long a connection may sit idle between
	// requests. Zero disables the timeout; agents hold their bank
	// connection open for the whole session.
	ReadTimeout       time.Duration
	RequestsPerSecond int
	BurstSize         int
}

// Server accepts bank clients over TCP and serves the ledger. One
// acceptor goroutine, one handler goroutine per connection. A client
// error never takes the server down: the offending connection replies
// with a failure or is dropped, and everything else keeps serving.
type Server struct {
	cfg    ServerConfig
	ledger *Ledger
	logger *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewServer creates a bank server around a ledger.
func NewServer(cfg ServerConfig, ledger *Ledger, logger *slog.Logger) *Server {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 200
	}
	return &Server{
		cfg:    cfg,
		ledger: ledger,
		logger: logger,
	}
}

// Start binds the listening socket and launches the acceptor. It
// returns once the socket is bound, so callers can read Addr().
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return domainerrors.Wrap(err, "bank listen")
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.logger.Info("bank server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and waits for all connection handlers.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
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
	defer codec.Close()

	metrics.BankConnections.Inc()
	defer metrics.BankConnections.Dec()

	logger := s.logger.With("remote", codec.RemoteAddr())
	logger.Debug("client connected")

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)

	for {
		var deadline time.Time
		if s.cfg.ReadTimeout > 0 {
			deadline = time.Now().Add(s.cfg.ReadTimeout)
		}
		msg, err := codec.Read(deadline)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("client read failed", "error", err)
			}
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		reply := s.dispatch(msg, logger)
		metrics.BankRequestsTotal.WithLabelValues(msg.Type, replyStatus(reply)).Inc()
		if err := codec.Write(reply); err != nil {
			logger.Debug("client write failed", "error", err)
			return
		}
	}
}

func replyStatus(msg protocol.Message) string {
	var generic protocol.GenericResponse
	if err := protocol.Decode(msg, &generic); err == nil && generic.Success {
		return "ok"
	}
	return "error"
}

// dispatch routes one request frame to its handler. Unknown tags get a
// generic error reply and the connection stays alive.
func (s *Server) dispatch(msg protocol.Message, logger *slog.Logger) protocol.Message {
	switch msg.Type {
	case protocol.TypeRegisterAgent:
		return s.handleRegisterAgent(msg, logger)
	case protocol.TypeRegisterHouse:
		return s.handleRegisterHouse(msg, logger)
	case protocol.TypeBlockFunds:
		return s.handleFunds(msg, protocol.TypeBlockFundsResponse, s.ledger.BlockFunds)
	case protocol.TypeUnblockFunds:
		return s.handleFunds(msg, protocol.TypeUnblockFundsResponse, s.ledger.UnblockFunds)
	case protocol.TypeTransferFunds:
		return s.handleTransfer(msg)
	case protocol.TypeGetAccountInfo:
		return s.handleAccountInfo(msg)
	case protocol.TypeGetHouses:
		return protocol.MustMessage(protocol.TypeGetHousesResponse, protocol.GetHousesResponse{
			Success: true,
			Houses:  s.ledger.Houses(),
		})
	case protocol.TypeDeregister:
		return s.handleDeregister(msg, logger)
	default:
		logger.Warn("unknown message type", "type", msg.Type)
		return protocol.MustMessage(protocol.TypeError, protocol.GenericResponse{
			Success: false,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

func (s *Server) handleRegisterAgent(msg protocol.Message, logger *slog.Logger) protocol.Message {
	var req protocol.RegisterAgentRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(protocol.TypeRegisterAgentResponse, err)
	}
	acct, houses, err := s.ledger.RegisterAgent(req.Name, req.InitialBalance)
	if err != nil {
		return protocol.MustMessage(protocol.TypeRegisterAgentResponse, protocol.RegisterAgentResponse{
			Success: false,
			Message: domainerrors.UserMessage(err),
		})
	}
	metrics.BankAccounts.Set(float64(s.ledger.AccountCount()))
	logger.Info("agent registered", "account_id", acct.ID, "name", acct.Name)
	return protocol.MustMessage(protocol.TypeRegisterAgentResponse, protocol.RegisterAgentResponse{
		Success:   true,
		AccountID: acct.ID,
		Message:   "registered",
		Houses:    houses,
	})
}

func (s *Server) handleRegisterHouse(msg protocol.Message, logger *slog.Logger) protocol.Message {
	var req protocol.RegisterHouseRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(protocol.TypeRegisterHouseResponse, err)
	}
	reg, err := s.ledger.RegisterHouse(req.Host, req.Port)
	if err != nil {
		return protocol.MustMessage(protocol.TypeRegisterHouseResponse, protocol.RegisterHouseResponse{
			Success: false,
			Message: domainerrors.UserMessage(err),
		})
	}
	metrics.BankAccounts.Set(float64(s.ledger.AccountCount()))
	logger.Info("auction house registered",
		"house_id", reg.HouseID,
		"account_id", reg.AccountID,
		"host", reg.Host,
		"port", reg.Port)
	return protocol.MustMessage(protocol.TypeRegisterHouseResponse, protocol.RegisterHouseResponse{
		Success:   true,
		HouseID:   reg.HouseID,
		AccountID: reg.AccountID,
		Message:   "registered",
	})
}

func (s *Server) handleFunds(msg protocol.Message, replyType string, op func(int64, values.Money) error) protocol.Message {
	var req protocol.FundsRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(replyType, err)
	}
	if err := op(req.AccountID, req.Amount); err != nil {
		return failure(replyType, err)
	}
	return success(replyType)
}

func (s *Server) handleTransfer(msg protocol.Message) protocol.Message {
	var req protocol.TransferFundsRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(protocol.TypeTransferFundsResponse, err)
	}
	if err := s.ledger.TransferFunds(req.FromID, req.ToID, req.Amount); err != nil {
		return failure(protocol.TypeTransferFundsResponse, err)
	}
	return success(protocol.TypeTransferFundsResponse)
}

func (s *Server) handleAccountInfo(msg protocol.Message) protocol.Message {
	var req protocol.GetAccountInfoRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(protocol.TypeGetAccountInfoResp, err)
	}
	balance, err := s.ledger.AccountInfo(req.AccountID)
	if err != nil {
		return protocol.MustMessage(protocol.TypeGetAccountInfoResp, protocol.GetAccountInfoResponse{
			Success: false,
			Message: domainerrors.UserMessage(err),
		})
	}
	return protocol.MustMessage(protocol.TypeGetAccountInfoResp, protocol.GetAccountInfoResponse{
		Success:   true,
		Total:     balance.Total,
		Available: balance.Available,
		Blocked:   balance.Blocked,
	})
}

func (s *Server) handleDeregister(msg protocol.Message, logger *slog.Logger) protocol.Message {
	var req protocol.DeregisterRequest
	if err := protocol.Decode(msg, &req); err != nil {
		return failure(protocol.TypeDeregisterResponse, err)
	}
	if err := s.ledger.Deregister(req.AccountID); err != nil {
		return failure(protocol.TypeDeregisterResponse, err)
	}
	metrics.BankAccounts.Set(float64(s.ledger.AccountCount()))
	logger.Info("deregistered", "account_id", req.AccountID, "kind", req.Kind)
	return success(protocol.TypeDeregisterResponse)
}

func success(replyType string) protocol.Message {
	return protocol.MustMessage(replyType, protocol.GenericResponse{Success: true, Message: "ok"})
}

func failure(replyType string, err error) protocol.Message {
	return protocol.MustMessage(replyType, protocol.GenericResponse{
		Success: false,
		Message: domainerrors.UserMessage(err),
	})
}
