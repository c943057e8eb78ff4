package database

import (
	"fmt"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
)

// Pairing is a responder this controller has paired with and the settings
// record it offered.
type Pairing struct {
	PeerID    string    `gorm:"primarykey;size:10;not null" json:"peer_id"`
	Settings  []byte    `gorm:"not null" json:"settings"`
	PairedAt  time.Time `json:"paired_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Pairing) TableName() string {
	return "pairings"
}

// Identity decodes the peer key
func (p Pairing) Identity() (protocol.PeerIdentity, error) {
	return protocol.ParseIdentity(p.PeerID)
}

// Record decodes the stored settings
func (p Pairing) Record() (settings.Record, error) {
	return settings.FromBytes(p.Settings)
}

// IsValid checks the row has a usable key and a complete record
func (p Pairing) IsValid() bool {
	id, err := p.Identity()
	return err == nil && id.Valid() && len(p.Settings) == settings.Length
}

func (p Pairing) String() string {
	id, err := p.Identity()
	if err != nil {
		return fmt.Sprintf("%s (invalid)", p.PeerID)
	}
	rec, err := p.Record()
	if err != nil {
		return fmt.Sprintf("%s (no settings)", id)
	}
	return fmt.Sprintf("%s paired %s [%s]", id, p.PairedAt.Format(time.DateTime), rec)
}

// DeviceState is the single-row persistence slot of this unit
type DeviceState struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Peer      string    `gorm:"size:10" json:"peer"`
	LastPeer  string    `gorm:"size:10" json:"last_peer"`
	Connected bool      `json:"connected"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DeviceState) TableName() string {
	return "device_state"
}

// deviceStateID is the primary key of the only DeviceState row
const deviceStateID = 1

// SessionEvent is one line of the session log
type SessionEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PeerID    string    `gorm:"index;size:10" json:"peer_id"`
	Kind      string    `gorm:"index;size:20" json:"kind"`
	Detail    string    `gorm:"size:255" json:"detail"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}

func (e SessionEvent) String() string {
	s := fmt.Sprintf("%s %s %s", e.CreatedAt.Format(time.DateTime), e.PeerID, e.Kind)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// identityKey is the column form of an identity; NoPeer is stored empty
func identityKey(id protocol.PeerIdentity) string {
	if id.IsNoPeer() {
		return ""
	}
	return id.Hex()
}

func parseKey(key string) (protocol.PeerIdentity, error) {
	if key == "" {
		return protocol.NoPeer, nil
	}
	return protocol.ParseIdentity(key)
}
