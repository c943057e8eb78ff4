package link

import (
	"sync"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
)

// PeerStore is the single-slot "paired peer" persistence of a responder
type PeerStore interface {
	SavePeer(id protocol.PeerIdentity) error
	LoadPeer() (protocol.PeerIdentity, bool, error)
}

// SettingsStore keeps the negotiated record for every paired responder
type SettingsStore interface {
	SaveSettings(id protocol.PeerIdentity, rec settings.Record) error
	LoadSettings(id protocol.PeerIdentity) (settings.Record, bool, error)
}

// LastPeerStore remembers the last connected peer. NoPeer means none.
type LastPeerStore interface {
	SaveLastPeer(id protocol.PeerIdentity) error
	LoadLastPeer() (protocol.PeerIdentity, error)
}

// ConnectedStore persists whether the unit was connected at power-off
type ConnectedStore interface {
	SaveConnected(connected bool) error
	LoadConnected() (bool, error)
}

// ControllerStore is everything a Controller persists
type ControllerStore interface {
	SettingsStore
	LastPeerStore
}

// ResponderStore is everything a Responder persists
type ResponderStore interface {
	PeerStore
	LastPeerStore
	ConnectedStore
}

// Validator decides whether a connecting controller is accepted and which
// settings record the session uses.
type Validator interface {
	Validate(id protocol.PeerIdentity) (settings.Record, bool)
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(id protocol.PeerIdentity) (settings.Record, bool)

func (f ValidatorFunc) Validate(id protocol.PeerIdentity) (settings.Record, bool) {
	return f(id)
}

// StoreValidator accepts only the controller recorded at pairing and
// answers with a fixed profile.
type StoreValidator struct {
	Store   PeerStore
	Profile settings.Record
}

func (v StoreValidator) Validate(id protocol.PeerIdentity) (settings.Record, bool) {
	if !id.Valid() || v.Store == nil {
		return settings.Record{}, false
	}
	paired, ok, err := v.Store.LoadPeer()
	if err != nil || !ok || paired != id {
		return settings.Record{}, false
	}
	return v.Profile, true
}

// Session event kinds
const (
	EventPaired       = "paired"
	EventConnected    = "connected"
	EventRefused      = "refused"
	EventDisconnected = "disconnected"
	EventResumed      = "resumed"
	EventResumeFailed = "resume-failed"
)

// EventRecorder receives a line for every session milestone
type EventRecorder interface {
	RecordEvent(id protocol.PeerIdentity, kind, detail string) error
}

// MemoryStore keeps every persistence slot in memory. It satisfies both
// ControllerStore and ResponderStore.
type MemoryStore struct {
	mu        sync.Mutex
	peer      protocol.PeerIdentity
	hasPeer   bool
	records   map[protocol.PeerIdentity]settings.Record
	lastPeer  protocol.PeerIdentity
	connected bool
}

var (
	_ ControllerStore = (*MemoryStore)(nil)
	_ ResponderStore  = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[protocol.PeerIdentity]settings.Record)}
}

func (s *MemoryStore) SavePeer(id protocol.PeerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer, s.hasPeer = id, true
	return nil
}

func (s *MemoryStore) LoadPeer() (protocol.PeerIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.hasPeer, nil
}

func (s *MemoryStore) SaveSettings(id protocol.PeerIdentity, rec settings.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) LoadSettings(id protocol.PeerIdentity) (settings.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) SaveLastPeer(id protocol.PeerIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPeer = id
	return nil
}

func (s *MemoryStore) LoadLastPeer() (protocol.PeerIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPeer, nil
}

func (s *MemoryStore) SaveConnected(connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	return nil
}

func (s *MemoryStore) LoadConnected() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}
