// Package bankclient implements the RPC client side of the bank
// protocol. Both auction houses and agents embed one of these: a
// single TCP connection on which exactly one request is outstanding
// at a time, guarded by a mutex so a request/reply pair can never
// interleave with another request.
package bankclient

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// DefaultTimeout bounds every bank round trip.
const DefaultTimeout = 10 * time.Second

// Client is a bank connection. Safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	codec   *protocol.Codec
	timeout time.Duration
}

// Dial connects to the bank at addr.
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, DefaultTimeout)
}

// DialTimeout connects with a custom per-request timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.NewTransportError("cannot reach bank").WithCause(err)
	}
	return &Client{
		codec:   protocol.NewCodec(conn),
		timeout: timeout,
	}, nil
}

// Close closes the bank connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.Close()
}

// roundTrip sends one request and reads its reply under the client
// mutex. The reply tag must match expectType; the bank never pushes
// unsolicited frames, so any mismatch is a protocol violation.
func (c *Client) roundTrip(req protocol.Message, expectType string) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.codec.Write(req); err != nil {
		return protocol.Message{}, errors.NewTransportError("bank request failed").WithCause(err)
	}
	reply, err := c.codec.Read(time.Now().Add(c.timeout))
	if err != nil {
		return protocol.Message{}, errors.NewTransportError("bank reply failed").WithCause(err)
	}
	if reply.Type != expectType && reply.Type != protocol.TypeError {
		return protocol.Message{}, errors.NewTransportError(
			fmt.Sprintf("unexpected bank reply %s to %s", reply.Type, req.Type))
	}
	return reply, nil
}

func (c *Client) genericCall(reqType string, payload any, replyType string) error {
	req, err := protocol.NewMessage(reqType, payload)
	if err != nil {
		return err
	}
	reply, err := c.roundTrip(req, replyType)
	if err != nil {
		return err
	}
	var resp protocol.GenericResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.NewBusinessError("BANK_REFUSED", resp.Message)
	}
	return nil
}

// RegisterAgent creates an agent account and returns its id along with
// the current auction house listings.
func (c *Client) RegisterAgent(name string, initial values.Money) (int64, []auction.HouseRegistration, error) {
	req, err := protocol.NewMessage(protocol.TypeRegisterAgent, protocol.RegisterAgentRequest{
		Name:           name,
		InitialBalance: initial,
	})
	if err != nil {
		return 0, nil, err
	}
	reply, err := c.roundTrip(req, protocol.TypeRegisterAgentResponse)
	if err != nil {
		return 0, nil, err
	}
	var resp protocol.RegisterAgentResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return 0, nil, err
	}
	if !resp.Success {
		return 0, nil, errors.NewBusinessError("REGISTRATION_REFUSED", resp.Message)
	}
	return resp.AccountID, resp.Houses, nil
}

// RegisterHouse records a house's advertised endpoint and creates its
// bank account.
func (c *Client) RegisterHouse(host string, port int) (houseID, accountID int64, err error) {
	req, err := protocol.NewMessage(protocol.TypeRegisterHouse, protocol.RegisterHouseRequest{
		Host: host,
		Port: port,
	})
	if err != nil {
		return 0, 0, err
	}
	reply, err := c.roundTrip(req, protocol.TypeRegisterHouseResponse)
	if err != nil {
		return 0, 0, err
	}
	var resp protocol.RegisterHouseResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return 0, 0, err
	}
	if !resp.Success {
		return 0, 0, errors.NewBusinessError("REGISTRATION_REFUSED", resp.Message)
	}
	return resp.HouseID, resp.AccountID, nil
}

// BlockFunds asks the bank to move amount into the blocked balance.
func (c *Client) BlockFunds(accountID int64, amount values.Money) error {
	return c.genericCall(protocol.TypeBlockFunds,
		protocol.FundsRequest{AccountID: accountID, Amount: amount},
		protocol.TypeBlockFundsResponse)
}

// UnblockFunds releases a previously blocked amount.
func (c *Client) UnblockFunds(accountID int64, amount values.Money) error {
	return c.genericCall(protocol.TypeUnblockFunds,
		protocol.FundsRequest{AccountID: accountID, Amount: amount},
		protocol.TypeUnblockFundsResponse)
}

// TransferFunds moves a blocked amount from one account to another.
func (c *Client) TransferFunds(fromID, toID int64, amount values.Money) error {
	return c.genericCall(protocol.TypeTransferFunds,
		protocol.TransferFundsRequest{FromID: fromID, ToID: toID, Amount: amount},
		protocol.TypeTransferFundsResponse)
}

// AccountInfo returns the (total, available, blocked) snapshot.
func (c *Client) AccountInfo(accountID int64) (protocol.GetAccountInfoResponse, error) {
	req, err := protocol.NewMessage(protocol.TypeGetAccountInfo, protocol.GetAccountInfoRequest{
		AccountID: accountID,
	})
	if err != nil {
		return protocol.GetAccountInfoResponse{}, err
	}
	reply, err := c.roundTrip(req, protocol.TypeGetAccountInfoResp)
	if err != nil {
		return protocol.GetAccountInfoResponse{}, err
	}
	var resp protocol.GetAccountInfoResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return protocol.GetAccountInfoResponse{}, err
	}
	if !resp.Success {
		return protocol.GetAccountInfoResponse{}, errors.NewBusinessError("BANK_REFUSED", resp.Message)
	}
	return resp, nil
}

// Houses fetches the current auction house listings.
func (c *Client) Houses() ([]auction.HouseRegistration, error) {
	reply, err := c.roundTrip(protocol.Message{Type: protocol.TypeGetHouses}, protocol.TypeGetHousesResponse)
	if err != nil {
		return nil, err
	}
	var resp protocol.GetHousesResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.NewBusinessError("BANK_REFUSED", resp.Message)
	}
	return resp.Houses, nil
}

// Deregister removes the account, and for houses, the public listing.
func (c *Client) Deregister(accountID int64, kind string) error {
	return c.genericCall(protocol.TypeDeregister,
		protocol.DeregisterRequest{AccountID: accountID, Kind: kind},
		protocol.TypeDeregisterResponse)
}
