package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PeerIdentity is the 5-byte address of one physical unit. It doubles as
// the unit's receive pipe address and as its pairing record key.
type PeerIdentity [IDENTITY_LENGTH]byte

var (
	// PairingAddress is the well-known discovery pipe
	PairingAddress = PeerIdentity{'P', 'a', 'i', 'r', '0'}
	// NoPeer marks "no last known peer" in persistent storage
	NoPeer = PeerIdentity{}
)

// IsNoPeer reports whether p is the all-zero sentinel
func (p PeerIdentity) IsNoPeer() bool {
	return p == NoPeer
}

// Valid reports whether p may be assigned to a unit
func (p PeerIdentity) Valid() bool {
	return p != NoPeer && p != PairingAddress
}

// Hex returns the identity as 10 lowercase hex digits
func (p PeerIdentity) Hex() string {
	return hex.EncodeToString(p[:])
}

func (p PeerIdentity) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", p[0], p[1], p[2], p[3], p[4])
}

// ParseIdentity accepts "AA:BB:CC:DD:EE", "aabbccddee" or a 5 character
// ASCII name such as "Node1".
func ParseIdentity(s string) (PeerIdentity, error) {
	var id PeerIdentity
	s = strings.TrimSpace(s)

	switch {
	case len(s) == IDENTITY_LENGTH:
		copy(id[:], s)
	case len(s) == 2*IDENTITY_LENGTH || len(s) == 3*IDENTITY_LENGTH-1:
		raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
		if err != nil || len(raw) != IDENTITY_LENGTH {
			return NoPeer, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
		}
		copy(id[:], raw)
	default:
		return NoPeer, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}

	return id, nil
}

// IdentityFromBytes reads an identity from the start of a received payload
func IdentityFromBytes(b []byte) (PeerIdentity, error) {
	var id PeerIdentity
	if len(b) < IDENTITY_LENGTH {
		return NoPeer, fmt.Errorf("%w: %d bytes", ErrInvalidIdentity, len(b))
	}
	copy(id[:], b[:IDENTITY_LENGTH])
	return id, nil
}
