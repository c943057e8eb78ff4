package protocol

import (
	"errors"
	"testing"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    PeerIdentity
		wantErr bool
	}{
		{"Node1", PeerIdentity{'N', 'o', 'd', 'e', '1'}, false},
		{"0102030405", PeerIdentity{1, 2, 3, 4, 5}, false},
		{"de:ad:BE:EF:01", PeerIdentity{0xDE, 0xAD, 0xBE, 0xEF, 0x01}, false},
		{"  Pair0 ", PairingAddress, false},
		{"010203040", NoPeer, true},
		{"zz02030405", NoPeer, true},
		{"01:02:03:04:0g", NoPeer, true},
		{"", NoPeer, true},
	}

	for _, tt := range tests {
		got, err := ParseIdentity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseIdentity(%q) error = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("ParseIdentity(%q) error = %v, want ErrInvalidIdentity", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseIdentity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIdentityValid(t *testing.T) {
	if NoPeer.Valid() || PairingAddress.Valid() {
		t.Error("reserved identities reported as valid")
	}
	if !NoPeer.IsNoPeer() {
		t.Error("NoPeer.IsNoPeer() = false")
	}

	id := PeerIdentity{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	if !id.Valid() {
		t.Errorf("%v.Valid() = false", id)
	}
	if id.String() != "DE:AD:BE:EF:01" {
		t.Errorf("String() = %q", id.String())
	}
	if id.Hex() != "deadbeef01" {
		t.Errorf("Hex() = %q", id.Hex())
	}

	back, err := ParseIdentity(id.Hex())
	if err != nil || back != id {
		t.Errorf("ParseIdentity(Hex()) = %v, %v", back, err)
	}
}

func TestIdentityFromBytes(t *testing.T) {
	id, err := IdentityFromBytes([]byte{1, 2, 3, 4, 5, 6, 7})
	if err != nil || id != (PeerIdentity{1, 2, 3, 4, 5}) {
		t.Errorf("IdentityFromBytes() = %v, %v", id, err)
	}
	if _, err := IdentityFromBytes([]byte{1, 2}); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("IdentityFromBytes(short) error = %v, want ErrInvalidIdentity", err)
	}
}
