package sim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dbehnke/rclink/internal/radio"
)

var (
	addrA = radio.Address{'A', 'A', 'A', 'A', 'A'}
	addrB = radio.Address{'B', 'B', 'B', 'B', 'B'}
)

func pair(t *testing.T, cfg radio.Config) (*Link, *Link) {
	t.Helper()
	m := NewMedium()
	tx, rx := m.NewLink("tx"), m.NewLink("rx")
	for _, l := range []*Link{tx, rx} {
		if err := l.Configure(cfg); err != nil {
			t.Fatalf("Configure() error = %v", err)
		}
	}
	tx.OpenWritingPipe(addrB)
	tx.OpenReadingPipe(1, addrA)
	rx.OpenWritingPipe(addrA)
	rx.OpenReadingPipe(1, addrB)
	rx.StartListening()
	return tx, rx
}

func TestWrite_Delivers(t *testing.T) {
	tx, rx := pair(t, radio.Config{Channel: 10, PayloadSize: 8, AutoAck: true})

	ok, err := tx.Write([]byte{1, 2, 3})
	if err != nil || !ok {
		t.Fatalf("Write() = %t, %v, want true, nil", ok, err)
	}

	pipe, avail, _ := rx.Available()
	if !avail || pipe != 1 {
		t.Fatalf("Available() = %d, %t, want 1, true", pipe, avail)
	}

	buf := make([]byte, 32)
	n, _ := rx.Read(buf)
	if n != 8 || !bytes.Equal(buf[:n], []byte{1, 2, 3, 0, 0, 0, 0, 0}) {
		t.Errorf("Read() = % x, want static payload padded to 8", buf[:n])
	}
	if _, avail, _ := rx.Available(); avail {
		t.Error("Available() = true after draining")
	}
}

func TestWrite_AirMismatch(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*radio.Config)
	}{
		{"channel", func(c *radio.Config) { c.Channel = 11 }},
		{"data rate", func(c *radio.Config) { c.DataRate = radio.DataRate250Kbps }},
		{"payload size", func(c *radio.Config) { c.PayloadSize = 16 }},
		{"dynamic payloads", func(c *radio.Config) { c.DynamicPayloads = true }},
	}

	base := radio.Config{Channel: 10, PayloadSize: 32, AutoAck: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, rx := pair(t, base)
			cfg := base
			tt.modify(&cfg)
			rx.Configure(cfg)

			if ok, _ := tx.Write([]byte{1}); ok {
				t.Error("Write() acked across mismatched settings")
			}
			if _, avail, _ := rx.Available(); avail {
				t.Error("payload delivered across mismatched settings")
			}
		})
	}
}

func TestWrite_NotListening(t *testing.T) {
	tx, rx := pair(t, radio.Config{PayloadSize: 32, AutoAck: true})
	rx.StopListening()

	if ok, _ := tx.Write([]byte{1}); ok {
		t.Error("Write() acked with receiver not listening")
	}

	// With auto-ack off the sender cannot tell
	tx.Configure(radio.Config{PayloadSize: 32})
	if ok, _ := tx.Write([]byte{1}); !ok {
		t.Error("Write() without auto-ack = false, want true")
	}
}

func TestWrite_WhileListening(t *testing.T) {
	tx, _ := pair(t, radio.Config{PayloadSize: 32, AutoAck: true})
	tx.StartListening()
	if _, err := tx.Write([]byte{1}); !errors.Is(err, ErrListening) {
		t.Errorf("Write() error = %v, want ErrListening", err)
	}
}

func TestFIFODepth(t *testing.T) {
	tx, rx := pair(t, radio.Config{PayloadSize: 32, AutoAck: true})

	for i := 0; i < FIFODepth; i++ {
		if ok, _ := tx.Write([]byte{byte(i)}); !ok {
			t.Fatalf("Write(%d) not acked", i)
		}
	}
	if ok, _ := tx.Write([]byte{9}); ok {
		t.Error("Write() acked with a full receive FIFO")
	}

	rx.Flush()
	if _, avail, _ := rx.Available(); avail {
		t.Error("Available() = true after Flush")
	}
}

func TestAckPayload(t *testing.T) {
	tx, rx := pair(t, radio.Config{PayloadSize: 32, AutoAck: true, AckPayloads: true, DynamicPayloads: true})

	rx.WriteAckPayload(1, []byte{0xAB, 0xCD})

	if ok, _ := tx.Write([]byte{1}); !ok {
		t.Fatal("Write() not acked")
	}
	buf := make([]byte, 32)
	n, ok, _ := tx.ReadAckPayload(buf)
	if !ok || !bytes.Equal(buf[:n], []byte{0xAB, 0xCD}) {
		t.Errorf("ReadAckPayload() = % x, %t", buf[:n], ok)
	}

	// Consumed
	if _, ok, _ := tx.ReadAckPayload(buf); ok {
		t.Error("ReadAckPayload() returned the payload twice")
	}
	tx.Write([]byte{2})
	if _, ok, _ := tx.ReadAckPayload(buf); ok {
		t.Error("ack carried a payload with none queued")
	}
}

func TestDropWrites(t *testing.T) {
	tx, rx := pair(t, radio.Config{PayloadSize: 32, AutoAck: true})
	tx.DropWrites(1)

	if ok, _ := tx.Write([]byte{1}); ok {
		t.Error("dropped Write() acked")
	}
	if ok, _ := tx.Write([]byte{2}); !ok {
		t.Error("Write() after drop not acked")
	}
	if _, avail, _ := rx.Available(); !avail {
		t.Error("second write not delivered")
	}
	if tx.Writes() != 2 {
		t.Errorf("Writes() = %d, want 2", tx.Writes())
	}
}
