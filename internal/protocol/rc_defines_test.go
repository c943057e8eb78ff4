package protocol

import (
	"fmt"
	"testing"
)

func TestIsChannelPacket(t *testing.T) {
	tests := []struct {
		tag  byte
		want bool
	}{
		{0xA0, true},
		{0xA7, true},
		{0xAF, true},
		{0x9F, false},
		{0xB0, false},
		{PACKET_DISCONNECT, false},
		{PACKET_RECONNECT, false},
		{CONTROL_ACK, false},
	}

	for _, tt := range tests {
		if got := IsChannelPacket(tt.tag); got != tt.want {
			t.Errorf("IsChannelPacket(%#02x) = %t, want %t", tt.tag, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateConnected.String() != "CONNECTED" {
		t.Errorf("StateConnected.String() = %q", StateConnected.String())
	}
	if State(42).String() != "UNKNOWN" {
		t.Errorf("State(42).String() = %q", State(42).String())
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"controller", RoleController, false},
		{" TX ", RoleController, false},
		{"Responder", RoleResponder, false},
		{"receiver", RoleResponder, false},
		{"relay", RoleController, true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %t", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsInformational(t *testing.T) {
	if !IsInformational(fmt.Errorf("update: %w", ErrTickTooShort)) {
		t.Error("IsInformational(wrapped ErrTickTooShort) = false")
	}
	if IsInformational(ErrLostConnection) {
		t.Error("IsInformational(ErrLostConnection) = true")
	}
	if IsInformational(nil) {
		t.Error("IsInformational(nil) = true")
	}
}
