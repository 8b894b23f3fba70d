package dht

import (
	"crypto/sha1"
	"encoding/hex"
	"math/bits"
)

// idLenBits is the length of a node/key ID in bits (spec §3: 160-bit IDs).
const idLenBits = 160

// NodeID is a 160-bit Kademlia identifier, shared by DHT nodes and the
// "worker:<id>" / "service:<type>" keys stored against them.
type NodeID [idLenBits / 8]byte

// HashID derives a NodeID by SHA-1 hashing s, matching the Kademlia
// convention of deriving IDs from a stable identity string (worker ID,
// service type name, or a node's own randomly generated identity).
func HashID(s string) NodeID {
	return NodeID(sha1.Sum([]byte(s)))
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Distance computes the XOR distance between two IDs, per Kademlia.
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// PrefixLen returns the number of leading zero bits in id, i.e. the bucket
// index a contact at XOR-distance id belongs in: bucket[i] holds contacts
// at distance in [2^(160-i-1), 2^(160-i)).
func (id NodeID) PrefixLen() int {
	for i, b := range id {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return idLenBits
}

// Less reports whether a is numerically closer to the origin than b, used
// to order candidate lists by distance during iterative lookups.
func Less(a, b NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
