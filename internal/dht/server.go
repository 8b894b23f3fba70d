package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/fleet/internal/logging"
)

// Server mounts the DHT RPC endpoint on a node's HTTP mux, dispatching
// incoming envelopes to the owning Node.
type Server struct {
	node *Node
}

// NewServer wraps node for HTTP handling.
func NewServer(node *Node) *Server {
	return &Server{node: node}
}

// Handler returns the /dht/rpc handler, callable from any router (chi or
// bare ServeMux).
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Envelope
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid envelope", http.StatusBadRequest)
			return
		}
		if req.Version != ProtocolVersion {
			http.Error(w, "unsupported version", http.StatusBadRequest)
			return
		}

		if sender, err := parseNodeID(req.SenderNodeID); err == nil && req.SenderAddress != "" {
			s.node.routingTable.Insert(Contact{ID: sender, Address: req.SenderAddress, LastSeen: time.Now()})
		}

		reply, err := s.dispatch(r.Context(), req)
		if err != nil {
			logging.WithComponent("dht.server").Warn().Err(err).Str("type", string(req.Type)).Msg("rpc failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := Envelope{
			SenderNodeID:  s.node.self.String(),
			SenderAddress: s.node.address,
			TxnID:         req.TxnID,
			Version:       ProtocolVersion,
			Type:          req.Type,
			Payload:       reply,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *Server) dispatch(ctx context.Context, req Envelope) (json.RawMessage, error) {
	switch req.Type {
	case MessagePing:
		return json.Marshal(PingReply{NodeID: s.node.self.String(), Address: s.node.address})

	case MessageStore:
		var p StorePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		_ = s.node.store.PutTTL(p.Key, p.Value, p.TTL)
		return json.Marshal(StoreReply{Accepted: true})

	case MessageFindNode:
		var p FindNodePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		closest := s.node.routingTable.Closest(p.Target, BucketSize)
		return json.Marshal(FindNodeReply{Contacts: toWireContacts(closest)})

	case MessageFindValue:
		var p FindValuePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		if value, err := s.node.store.Get(p.Key); err == nil {
			return json.Marshal(FindValueReply{Found: true, Value: value})
		}
		closest := s.node.routingTable.Closest(p.Target, BucketSize)
		return json.Marshal(FindValueReply{Found: false, Contacts: toWireContacts(closest)})

	default:
		return nil, fmt.Errorf("UNSUPPORTED: unknown message type %q", req.Type)
	}
}
