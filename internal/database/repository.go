package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dbehnke/rclink/internal/link"
	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
)

// Repository persists pairings, the device slot and the session log. It
// implements every link persistence interface.
type Repository struct {
	db *gorm.DB
}

var (
	_ link.ControllerStore = (*Repository)(nil)
	_ link.ResponderStore  = (*Repository)(nil)
	_ link.EventRecorder   = (*Repository)(nil)
)

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveSettings creates or updates the pairing for id
func (r *Repository) SaveSettings(id protocol.PeerIdentity, rec settings.Record) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %s", protocol.ErrInvalidIdentity, id)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var p Pairing
		err := tx.Where("peer_id = ?", id.Hex()).First(&p).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = Pairing{PeerID: id.Hex(), PairedAt: time.Now()}
		case err != nil:
			return err
		}
		p.Settings = append([]byte(nil), rec.Bytes()...)
		p.UpdatedAt = time.Now()
		return tx.Save(&p).Error
	})
}

// LoadSettings finds the pairing for id
func (r *Repository) LoadSettings(id protocol.PeerIdentity) (settings.Record, bool, error) {
	p, err := r.GetPairing(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings.Record{}, false, nil
	}
	if err != nil {
		return settings.Record{}, false, err
	}
	rec, err := p.Record()
	if err != nil {
		return settings.Record{}, false, fmt.Errorf("pairing %s: %w", id, err)
	}
	return rec, true, nil
}

// GetPairing returns the raw row for id
func (r *Repository) GetPairing(id protocol.PeerIdentity) (*Pairing, error) {
	var p Pairing
	if err := r.db.Where("peer_id = ?", id.Hex()).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPairings returns every paired responder, oldest first
func (r *Repository) ListPairings() ([]Pairing, error) {
	var pairings []Pairing
	err := r.db.Order("paired_at ASC").Find(&pairings).Error
	return pairings, err
}

// DeletePairing forgets id. Device slots that point at it are cleared too.
func (r *Repository) DeletePairing(id protocol.PeerIdentity) error {
	key := id.Hex()
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("peer_id = ?", key).Delete(&Pairing{})
		if res.Error != nil {
			return res.Error
		}

		s, err := loadState(tx)
		if err != nil {
			return err
		}
		changed := false
		if s.Peer == key {
			s.Peer = ""
			changed = true
		}
		if s.LastPeer == key {
			s.LastPeer = ""
			s.Connected = false
			changed = true
		}
		if changed {
			s.UpdatedAt = time.Now()
			return tx.Save(s).Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("pairing %s: %w", id, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// Count returns the number of stored pairings
func (r *Repository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Pairing{}).Count(&count).Error
	return count, err
}

// loadState returns the device slot, creating it on first use
func loadState(tx *gorm.DB) (*DeviceState, error) {
	s := DeviceState{ID: deviceStateID}
	if err := tx.FirstOrCreate(&s, DeviceState{ID: deviceStateID}).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) updateState(fn func(*DeviceState)) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		s, err := loadState(tx)
		if err != nil {
			return err
		}
		fn(s)
		s.UpdatedAt = time.Now()
		return tx.Save(s).Error
	})
}

// State returns a copy of the device slot
func (r *Repository) State() (DeviceState, error) {
	s, err := loadState(r.db)
	if err != nil {
		return DeviceState{}, err
	}
	return *s, nil
}

func (r *Repository) SavePeer(id protocol.PeerIdentity) error {
	return r.updateState(func(s *DeviceState) { s.Peer = identityKey(id) })
}

func (r *Repository) LoadPeer() (protocol.PeerIdentity, bool, error) {
	s, err := r.State()
	if err != nil {
		return protocol.NoPeer, false, err
	}
	id, err := parseKey(s.Peer)
	if err != nil {
		return protocol.NoPeer, false, err
	}
	return id, !id.IsNoPeer(), nil
}

func (r *Repository) SaveLastPeer(id protocol.PeerIdentity) error {
	return r.updateState(func(s *DeviceState) { s.LastPeer = identityKey(id) })
}

func (r *Repository) LoadLastPeer() (protocol.PeerIdentity, error) {
	s, err := r.State()
	if err != nil {
		return protocol.NoPeer, err
	}
	return parseKey(s.LastPeer)
}

func (r *Repository) SaveConnected(connected bool) error {
	return r.updateState(func(s *DeviceState) { s.Connected = connected })
}

func (r *Repository) LoadConnected() (bool, error) {
	s, err := r.State()
	if err != nil {
		return false, err
	}
	return s.Connected, nil
}

// RecordEvent appends to the session log
func (r *Repository) RecordEvent(id protocol.PeerIdentity, kind, detail string) error {
	if len(detail) > 255 {
		detail = detail[:255]
	}
	return r.db.Create(&SessionEvent{
		PeerID: identityKey(id),
		Kind:   kind,
		Detail: detail,
	}).Error
}

// RecentEvents returns the newest events first
func (r *Repository) RecentEvents(limit int) ([]SessionEvent, error) {
	var events []SessionEvent
	err := r.db.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// HealthCheck verifies the repository is working correctly
func (r *Repository) HealthCheck() error {
	var count int64
	return r.db.Model(&Pairing{}).Count(&count).Error
}
