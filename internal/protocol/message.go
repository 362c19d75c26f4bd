package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

// Message is the envelope for every frame on the wire. The payload
// shape is determined entirely by the type tag.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request and reply tags. Replies carry the request tag plus the
// _RESPONSE suffix so callers can pair them without a correlation id:
// request/reply traffic is strictly one-at-a-time per connection.
const (
	TypeRegisterAgent         = "REGISTER_AGENT"
	TypeRegisterAgentResponse = "REGISTER_AGENT_RESPONSE"
	TypeRegisterHouse         = "REGISTER_AUCTION_HOUSE"
	TypeRegisterHouseResponse = "REGISTER_AUCTION_HOUSE_RESPONSE"
	TypeBlockFunds            = "BLOCK_FUNDS"
	TypeBlockFundsResponse    = "BLOCK_FUNDS_RESPONSE"
	TypeUnblockFunds          = "UNBLOCK_FUNDS"
	TypeUnblockFundsResponse  = "UNBLOCK_FUNDS_RESPONSE"
	TypeTransferFunds         = "TRANSFER_FUNDS"
	TypeTransferFundsResponse = "TRANSFER_FUNDS_RESPONSE"
	TypeGetAccountInfo        = "GET_ACCOUNT_INFO"
	TypeGetAccountInfoResp    = "GET_ACCOUNT_INFO_RESPONSE"
	TypeGetHouses             = "GET_AUCTION_HOUSES"
	TypeGetHousesResponse     = "GET_AUCTION_HOUSES_RESPONSE"
	TypeDeregister            = "DEREGISTER"
	TypeDeregisterResponse    = "DEREGISTER_RESPONSE"
	TypeGetItems              = "GET_ITEMS"
	TypeGetItemsResponse      = "GET_ITEMS_RESPONSE"
	TypePlaceBid              = "PLACE_BID"
	TypePlaceBidResponse      = "PLACE_BID_RESPONSE"
	TypeConfirmWinner         = "CONFIRM_WINNER"
	TypeConfirmWinnerResponse = "CONFIRM_WINNER_RESPONSE"
	TypeBidStatus             = "BID_STATUS_NOTIFICATION"
	TypeError                 = "ERROR_RESPONSE"
)

// BidStatus values carried by PLACE_BID replies and notifications.
const (
	BidAccepted = "ACCEPTED"
	BidRejected = "REJECTED"
	BidOutbid   = "OUTBID"
	BidWinner   = "WINNER"
	BidItemSold = "ITEM_SOLD"
)

// NewMessage marshals payload and wraps it in an envelope.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType string, payload any) Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload of msg into out.
func Decode(msg Message, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}

// IsNotification reports whether the frame is an unsolicited push
// rather than the reply to an in-flight request.
func (m Message) IsNotification() bool {
	return m.Type == TypeBidStatus
}

// --- Bank request/reply payloads ---

type RegisterAgentRequest struct {
	Name           string       `json:"name"`
	InitialBalance values.Money `json:"initial_balance"`
}

type RegisterAgentResponse struct {
	Success   bool                        `json:"success"`
	AccountID int64                       `json:"account_id"`
	Message   string                      `json:"message"`
	Houses    []auction.HouseRegistration `json:"houses"`
}

type RegisterHouseRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type RegisterHouseResponse struct {
	Success   bool   `json:"success"`
	HouseID   int64  `json:"house_id"`
	AccountID int64  `json:"account_id"`
	Message   string `json:"message"`
}

type FundsRequest struct {
	AccountID int64        `json:"account_id"`
	Amount    values.Money `json:"amount"`
}

type TransferFundsRequest struct {
	FromID int64        `json:"from_id"`
	ToID   int64        `json:"to_id"`
	Amount values.Money `json:"amount"`
}

type GetAccountInfoRequest struct {
	AccountID int64 `json:"account_id"`
}

type GetAccountInfoResponse struct {
	Success   bool         `json:"success"`
	Total     values.Money `json:"total"`
	Available values.Money `json:"available"`
	Blocked   values.Money `json:"blocked"`
	Message   string       `json:"message"`
}

type GetHousesResponse struct {
	Success bool                        `json:"success"`
	Houses  []auction.HouseRegistration `json:"houses"`
	Message string                      `json:"message"`
}

type DeregisterRequest struct {
	AccountID int64  `json:"account_id"`
	Kind      string `json:"kind"`
}

// GenericResponse covers every reply that is just (success, message).
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// --- House request/reply payloads ---

type GetItemsResponse struct {
	Success bool           `json:"success"`
	Items   []auction.Item `json:"items"`
	Message string         `json:"message"`
}

type PlaceBidRequest struct {
	ItemID  int64        `json:"item_id"`
	AgentID int64        `json:"agent_id"`
	Amount  values.Money `json:"amount"`
}

type PlaceBidResponse struct {
	Success bool         `json:"success"`
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Amount  values.Money `json:"amount"`
}

type ConfirmWinnerRequest struct {
	ItemID  int64 `json:"item_id"`
	AgentID int64 `json:"agent_id"`
}

// BidStatusNotification is the single asynchronous push from house to
// agent. FinalPrice and HouseAccountID are meaningful for WINNER;
// ItemDescription for WINNER and ITEM_SOLD.
type BidStatusNotification struct {
	ItemID          int64        `json:"item_id"`
	Status          string       `json:"status"`
	Message         string       `json:"message"`
	FinalPrice      values.Money `json:"final_price"`
	HouseAccountID  int64        `json:"house_account_id"`
	ItemDescription string       `json:"item_description"`
}
