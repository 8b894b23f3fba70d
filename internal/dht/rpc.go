package dht

import (
	"encoding/hex"
	"encoding/json"
	"time"
)

// ProtocolVersion is the single byte carried in every envelope (spec §6):
// version 0x01 is the only version this implementation speaks.
const ProtocolVersion = 0x01

// MessageType identifies a DHT RPC's verb.
type MessageType string

const (
	MessagePing      MessageType = "PING"
	MessageStore     MessageType = "STORE"
	MessageFindNode  MessageType = "FIND_NODE"
	MessageFindValue MessageType = "FIND_VALUE"
)

// Envelope is the wire format for every DHT RPC, carried as the body of a
// POST to /dht/rpc (spec §6: HTTP/JSON chosen over raw UDP, see DESIGN.md).
type Envelope struct {
	SenderNodeID string          `json:"sender_node_id"`
	// SenderAddress is the sender's own reachable base URL, self-reported
	// so the callee can add it to its routing table. Not part of the
	// minimal spec envelope fields but required to keep contacts dialable.
	SenderAddress string          `json:"sender_address,omitempty"`
	TxnID         string          `json:"txn_id"`
	Version       int             `json:"version"`
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

// PingPayload carries no fields; presence of the envelope is the probe.
type PingPayload struct{}

// PingReply confirms liveness and lets the callee advertise itself.
type PingReply struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// StorePayload asks the callee to store a value under key with the given
// TTL and namespace. TTL is a time.Duration, so it travels as nanoseconds.
type StorePayload struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	TTL       time.Duration `json:"ttl"`
	Namespace string        `json:"namespace"`
}

// StoreReply reports whether the callee accepted the STORE.
type StoreReply struct {
	Accepted bool `json:"accepted"`
}

// FindNodePayload asks the callee for the contacts closest to Target.
type FindNodePayload struct {
	Target NodeID `json:"target"`
}

// FindNodeReply returns the closest known contacts.
type FindNodeReply struct {
	Contacts []WireContact `json:"contacts"`
}

// FindValuePayload asks for a value by key, falling back to FIND_NODE
// behavior (returning contacts) if the callee doesn't have it.
type FindValuePayload struct {
	Key    string `json:"key"`
	Target NodeID `json:"target"`
}

// FindValueReply carries either Value (Found=true) or a contact list to
// continue the iterative lookup.
type FindValueReply struct {
	Found    bool          `json:"found"`
	Value    []byte        `json:"value,omitempty"`
	Contacts []WireContact `json:"contacts,omitempty"`
}

// WireContact is Contact's JSON-safe projection (NodeID as hex string).
type WireContact struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func toWireContacts(contacts []Contact) []WireContact {
	out := make([]WireContact, len(contacts))
	for i, c := range contacts {
		out[i] = WireContact{ID: c.ID.String(), Address: c.Address}
	}
	return out
}

func fromWireContact(w WireContact) (Contact, error) {
	id, err := parseNodeID(w.ID)
	if err != nil {
		return Contact{}, err
	}
	return Contact{ID: id, Address: w.Address, LastSeen: time.Now()}, nil
}

func parseNodeID(s string) (NodeID, error) {
	var id NodeID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], decoded)
	return id, nil
}
