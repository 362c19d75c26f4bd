package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single frame. Anything larger is treated as
// framing corruption and kills the connection.
const MaxFrameSize = 1 << 20

// Codec reads and writes length-prefixed JSON frames on a single
// connection. Reads and writes are independently safe to run from two
// goroutines (one reader, one writer); concurrent writers must
// serialize externally.
type Codec struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewCodec wraps a connection in a frame codec.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Read blocks for the next frame. A zero deadline means no timeout.
func (c *Codec) Read(deadline time.Time) (Message, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, fmt.Errorf("set read deadline: %w", err)
	}
	var length uint32
	if err := binary.Read(c.r, binary.BigEndian, &length); err != nil {
		return Message{}, err
	}
	if length == 0 || length > MaxFrameSize {
		return Message{}, fmt.Errorf("invalid frame length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("frame missing type tag")
	}
	return msg, nil
}

// Write sends one frame and flushes it.
func (c *Codec) Write(msg Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(buf) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(buf))
	}
	if err := binary.Write(c.w, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// RemoteAddr reports the peer address for logging.
func (c *Codec) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
