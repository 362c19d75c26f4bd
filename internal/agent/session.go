package agent

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

const (
	listenerRetries    = 3
	listenerRetryDelay = time.Second
	responseQueueSize  = 16
)

// notificationHandler consumes unsolicited pushes from the house.
type notificationHandler func(houseID int64, n protocol.BidStatusNotification)

// houseSession is the agent's connection to one auction house: the
// codec, the response queue, and the listener goroutine. The listener
// is the only reader on the connection; it dispatches notifications
// and enqueues everything else for whichever request is in flight.
// Writers hold reqMu for the whole send-then-await cycle, so exactly
// one request is outstanding and its reply is the next non-notification
// frame dequeued.
type houseSession struct {
	houseID int64
	codec   *protocol.Codec
	logger  *slog.Logger

	reqMu sync.Mutex
	resp  chan protocol.Message

	onNotify notificationHandler

	done     chan struct{}
	once     sync.Once
	closedCb func(houseID int64)
}

func dialHouse(houseID int64, addr string, onNotify notificationHandler, closedCb func(int64), logger *slog.Logger) (*houseSession, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, errors.NewTransportError("cannot reach auction house").WithCause(err)
	}
	s := &houseSession{
		houseID:  houseID,
		codec:    protocol.NewCodec(conn),
		logger:   logger.With("house_id", houseID),
		resp:     make(chan protocol.Message, responseQueueSize),
		onNotify: onNotify,
		done:     make(chan struct{}),
		closedCb: closedCb,
	}
	go s.listen()
	return s, nil
}

// listen reads every frame and classifies it. Transient read failures
// are retried a few times with a delay; persistent failure tears the
// session down.
func (s *houseSession) listen() {
	failures := 0
	for {
		msg, err := s.codec.Read(time.Time{})
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			failures++
			if failures >= listenerRetries {
				s.logger.Warn("house connection lost", "error", err)
				s.close()
				return
			}
			s.logger.Debug("house read failed, retrying", "attempt", failures, "error", err)
			time.Sleep(listenerRetryDelay)
			continue
		}
		failures = 0

		if msg.IsNotification() {
			var n protocol.BidStatusNotification
			if err := protocol.Decode(msg, &n); err != nil {
				s.logger.Warn("malformed notification", "error", err)
				continue
			}
			// Dispatch off the listener so settlement traffic can use
			// the response queue this loop feeds.
			go s.onNotify(s.houseID, n)
			continue
		}

		select {
		case s.resp <- msg:
		default:
			s.logger.Warn("response queue full, dropping frame", "type", msg.Type)
		}
	}
}

// request performs one request/reply exchange with a bounded wait.
func (s *houseSession) request(msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	select {
	case <-s.done:
		return protocol.Message{}, errors.NewTransportError("house session closed")
	default:
	}

	// Drop any stale frame left over from a timed-out predecessor.
	select {
	case stale := <-s.resp:
		s.logger.Debug("discarding stale reply", "type", stale.Type)
	default:
	}

	if err := s.codec.Write(msg); err != nil {
		s.close()
		return protocol.Message{}, errors.NewTransportError("house request failed").WithCause(err)
	}

	select {
	case reply := <-s.resp:
		return reply, nil
	case <-time.After(timeout):
		return protocol.Message{}, errors.NewTransportError("timed out waiting for house reply")
	case <-s.done:
		return protocol.Message{}, errors.NewTransportError("house session closed")
	}
}

func (s *houseSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.codec.Close()
		if s.closedCb != nil {
			go s.closedCb(s.houseID)
		}
	})
}
