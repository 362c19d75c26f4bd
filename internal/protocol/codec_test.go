package protocol_test

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

func pipeCodecs(t *testing.T) (*protocol.Codec, *protocol.Codec) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return protocol.NewCodec(client), protocol.NewCodec(server)
}

func TestCodecRoundTrip(t *testing.T) {
	a, b := pipeCodecs(t)

	req, err := protocol.NewMessage(protocol.TypeBlockFunds, protocol.FundsRequest{
		AccountID: 1000,
		Amount:    values.MustNewMoneyFromFloat(150.25),
	})
	require.NoError(t, err)

	done := make(chan protocol.Message, 1)
	go func() {
		msg, err := b.Read(time.Time{})
		if err != nil {
			close(done)
			return
		}
		done <- msg
	}()

	require.NoError(t, a.Write(req))

	msg, ok := <-done
	require.True(t, ok, "read side failed")
	assert.Equal(t, protocol.TypeBlockFunds, msg.Type)

	var payload protocol.FundsRequest
	require.NoError(t, protocol.Decode(msg, &payload))
	assert.EqualValues(t, 1000, payload.AccountID)
	assert.True(t, payload.Amount.Equal(values.MustNewMoneyFromFloat(150.25)))
}

func TestCodecInterleavedFrames(t *testing.T) {
	a, b := pipeCodecs(t)

	go func() {
		for i := 0; i < 3; i++ {
			msg, _ := protocol.NewMessage(protocol.TypeGetHouses, nil)
			if err := a.Write(msg); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		msg, err := b.Read(time.Time{})
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeGetHouses, msg.Type)
	}
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	codec := protocol.NewCodec(server)

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], protocol.MaxFrameSize+1)
		client.Write(hdr[:])
	}()

	_, err := codec.Read(time.Time{})
	assert.Error(t, err)
}

func TestCodecRejectsZeroLengthFrame(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	codec := protocol.NewCodec(server)

	go func() {
		var hdr [4]byte
		client.Write(hdr[:])
	}()

	_, err := codec.Read(time.Time{})
	assert.Error(t, err)
}

func TestCodecRejectsMalformedJSON(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	codec := protocol.NewCodec(server)

	go func() {
		body := []byte("this is not json")
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
		client.Write(hdr[:])
		client.Write(body)
	}()

	_, err := codec.Read(time.Time{})
	assert.Error(t, err)
}

func TestCodecRejectsMissingType(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	codec := protocol.NewCodec(server)

	go func() {
		body := []byte(`{"payload":{}}`)
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
		client.Write(hdr[:])
		client.Write(body)
	}()

	_, err := codec.Read(time.Time{})
	assert.Error(t, err)
}

func TestCodecReadDeadline(t *testing.T) {
	_, b := pipeCodecs(t)

	start := time.Now()
	_, err := b.Read(time.Now().Add(50 * time.Millisecond))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
