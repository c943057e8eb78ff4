// Package radio defines the half-duplex packet radio the link protocol drives.
package radio

import "fmt"

// MaxPayloadSize is the largest payload a single packet can carry
const MaxPayloadSize = 32

// Address is a 5-byte pipe address
type Address [5]byte

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4])
}

// DataRate uses the RF24 enum order, which is also the settings wire value
type DataRate uint8

const (
	DataRate1Mbps DataRate = iota
	DataRate2Mbps
	DataRate250Kbps
)

func (d DataRate) String() string {
	switch d {
	case DataRate1Mbps:
		return "1mbps"
	case DataRate2Mbps:
		return "2mbps"
	case DataRate250Kbps:
		return "250kbps"
	default:
		return "unknown"
	}
}

// ParseDataRate is the inverse of DataRate.String
func ParseDataRate(s string) (DataRate, error) {
	switch s {
	case "1mbps", "1MBPS", "":
		return DataRate1Mbps, nil
	case "2mbps", "2MBPS":
		return DataRate2Mbps, nil
	case "250kbps", "250KBPS":
		return DataRate250Kbps, nil
	}
	return DataRate1Mbps, fmt.Errorf("unknown data rate %q", s)
}

// PALevel is the transmit power
type PALevel uint8

const (
	PALevelMin PALevel = iota
	PALevelLow
	PALevelHigh
	PALevelMax
)

func (p PALevel) String() string {
	switch p {
	case PALevelMin:
		return "min"
	case PALevelLow:
		return "low"
	case PALevelHigh:
		return "high"
	case PALevelMax:
		return "max"
	default:
		return "unknown"
	}
}

// Config is the complete set of tunable radio parameters
type Config struct {
	Channel         uint8
	DataRate        DataRate
	PALevel         PALevel
	PayloadSize     uint8 // Static payload width, ignored with DynamicPayloads
	DynamicPayloads bool
	AutoAck         bool
	AckPayloads     bool
	RetryDelay      uint8 // Units of 250us, 0-15
	RetryCount      uint8 // 0-15
}

func (c Config) String() string {
	return fmt.Sprintf("ch=%d rate=%s pa=%s size=%d dyn=%t ack=%t ackpl=%t retry=%d/%d",
		c.Channel, c.DataRate, c.PALevel, c.PayloadSize, c.DynamicPayloads,
		c.AutoAck, c.AckPayloads, c.RetryDelay, c.RetryCount)
}

// Link is a single half-duplex radio. Exactly one of listening or writing is
// active at a time; Write must only be called after StopListening.
type Link interface {
	// Configure applies every tunable parameter at once
	Configure(cfg Config) error

	OpenWritingPipe(addr Address) error
	OpenReadingPipe(pipe uint8, addr Address) error

	StartListening() error
	StopListening() error

	// Write sends buf and blocks until it is acknowledged or the hardware
	// gives up. With auto-ack disabled every completed send reports true.
	Write(buf []byte) (bool, error)

	// Available reports whether a received payload is queued and on which pipe
	Available() (pipe uint8, ok bool, err error)

	// Read pops the oldest queued payload into buf
	Read(buf []byte) (int, error)

	// WriteAckPayload queues buf to ride on the next ack sent from pipe
	WriteAckPayload(pipe uint8, buf []byte) error

	// ReadAckPayload returns the payload piggybacked on the last acknowledged Write
	ReadAckPayload(buf []byte) (n int, ok bool, err error)

	// Flush drops every queued inbound payload
	Flush() error
}
