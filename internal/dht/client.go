package dht

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dreamware/fleet/internal/transport"
)

// Client issues DHT RPCs to a remote node over HTTP/JSON, adapted from
// torua's internal/cluster PostJSON helper (now internal/transport).
type Client struct {
	self        NodeID
	selfAddress string
}

// NewClient builds a Client that identifies outgoing RPCs as coming from
// self, reachable at selfAddress.
func NewClient(self NodeID, selfAddress string) *Client {
	return &Client{self: self, selfAddress: selfAddress}
}

func (c *Client) call(ctx context.Context, addr string, typ MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	req := Envelope{
		SenderNodeID:  c.self.String(),
		SenderAddress: c.selfAddress,
		TxnID:         uuid.NewString(),
		Version:       ProtocolVersion,
		Type:          typ,
		Payload:       raw,
	}
	var resp Envelope
	if err := transport.PostJSON(ctx, addr+"/dht/rpc", req, &resp); err != nil {
		return Envelope{}, err
	}
	return resp, nil
}

// Ping probes a remote node for liveness.
func (c *Client) Ping(ctx context.Context, addr string) (PingReply, error) {
	resp, err := c.call(ctx, addr, MessagePing, PingPayload{})
	if err != nil {
		return PingReply{}, err
	}
	var reply PingReply
	err = json.Unmarshal(resp.Payload, &reply)
	return reply, err
}

// Store asks a remote node to store a value.
func (c *Client) Store(ctx context.Context, addr string, p StorePayload) (StoreReply, error) {
	resp, err := c.call(ctx, addr, MessageStore, p)
	if err != nil {
		return StoreReply{}, err
	}
	var reply StoreReply
	err = json.Unmarshal(resp.Payload, &reply)
	return reply, err
}

// FindNode asks a remote node for the contacts closest to target.
func (c *Client) FindNode(ctx context.Context, addr string, target NodeID) ([]Contact, error) {
	resp, err := c.call(ctx, addr, MessageFindNode, FindNodePayload{Target: target})
	if err != nil {
		return nil, err
	}
	var reply FindNodeReply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		return nil, err
	}
	return wireContactsToContacts(reply.Contacts)
}

// FindValue asks a remote node for a value, falling back to a contact list.
func (c *Client) FindValue(ctx context.Context, addr, key string, target NodeID) (FindValueReply, error) {
	resp, err := c.call(ctx, addr, MessageFindValue, FindValuePayload{Key: key, Target: target})
	if err != nil {
		return FindValueReply{}, err
	}
	var reply FindValueReply
	err = json.Unmarshal(resp.Payload, &reply)
	return reply, err
}

func wireContactsToContacts(wire []WireContact) ([]Contact, error) {
	out := make([]Contact, 0, len(wire))
	for _, w := range wire {
		c, err := fromWireContact(w)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
