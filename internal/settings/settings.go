// Package settings encodes the fixed 32-byte record two peers negotiate to
// describe their radio tuning and session parameters.
//
// Every setter masks only its own bits. Values wider than a field are
// truncated to the field's low bits rather than rejected.
package settings

import (
	"fmt"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
)

// Length of an encoded record
const Length = protocol.SETTINGS_LENGTH

// Byte offsets
const (
	byteFlags     = 0
	byteChannel   = 1
	bytePayload   = 2
	byteFrequency = 3
	byteRetry     = 4
	byteChannels  = 5
	byteTelemetry = 6
)

// Flag bits in byte 0
const (
	flagDynamicPayload = 1 << 0
	flagAck            = 1 << 1
	flagAckPayload     = 1 << 2
	dataRateShift      = 3
	dataRateMask       = 0x03 << dataRateShift
)

// Telemetry bitmask (byte 6)
const (
	TelemetryBattery     uint8 = 1 << 0
	TelemetryCurrent     uint8 = 1 << 1
	TelemetryTemperature uint8 = 1 << 2
	TelemetryRPM         uint8 = 1 << 3
	TelemetryGPS         uint8 = 1 << 4
	TelemetryAlarmShift        = 5
	TelemetryAlarmMask   uint8 = 0x03 << TelemetryAlarmShift
)

// Record is one encoded settings record
type Record [Length]byte

// New returns the default operating profile
func New() Record {
	var r Record
	r.SetDynamicPayload(false)
	r.SetAck(true)
	r.SetAckPayload(true)
	r.SetStartChannel(0)
	r.SetDataRate(radio.DataRate1Mbps)
	r.SetPayloadSize(32)
	r.SetCommsFrequency(60)
	r.SetRetryDelay(15)
	r.SetNumChannels(6)
	r.SetChannelSize(2)
	return r
}

// PairingProfile returns the conservative profile used on the discovery channel
func PairingProfile() Record {
	var r Record
	r.SetDynamicPayload(false)
	r.SetAck(true)
	r.SetAckPayload(false)
	r.SetDataRate(radio.DataRate1Mbps)
	r.SetStartChannel(protocol.PAIRING_CHANNEL)
	r.SetPayloadSize(protocol.MAX_PAYLOAD_SIZE)
	r.SetRetryDelay(protocol.PAIRING_RETRY_DELAY)
	return r
}

// FromBytes copies a received record
func FromBytes(b []byte) (Record, error) {
	var r Record
	if len(b) < Length {
		return r, fmt.Errorf("settings record too short: %d bytes", len(b))
	}
	copy(r[:], b[:Length])
	return r, nil
}

// Bytes exposes the encoded record
func (r *Record) Bytes() []byte {
	return r[:]
}

func (r *Record) setFlag(flag byte, enable bool) {
	if enable {
		r[byteFlags] |= flag
	} else {
		r[byteFlags] &^= flag
	}
}

func (r *Record) SetDynamicPayload(enable bool) { r.setFlag(flagDynamicPayload, enable) }
func (r Record) DynamicPayload() bool           { return r[byteFlags]&flagDynamicPayload != 0 }

func (r *Record) SetAck(enable bool) { r.setFlag(flagAck, enable) }
func (r Record) Ack() bool           { return r[byteFlags]&flagAck != 0 }

func (r *Record) SetAckPayload(enable bool) { r.setFlag(flagAckPayload, enable) }
func (r Record) AckPayload() bool           { return r[byteFlags]&flagAckPayload != 0 }

// AckPayloadActive reports whether telemetry rides on acks. Ack payloads
// need hardware acks, so the flag alone is not enough.
func (r Record) AckPayloadActive() bool { return r.Ack() && r.AckPayload() }

// SetDataRate stores the low two bits of rate
func (r *Record) SetDataRate(rate radio.DataRate) {
	r[byteFlags] = r[byteFlags]&^dataRateMask | (byte(rate)<<dataRateShift)&dataRateMask
}

// DataRate decodes the rate field. The reserved value 3 reads as 1.
func (r Record) DataRate() radio.DataRate {
	v := (r[byteFlags] & dataRateMask) >> dataRateShift
	if v == 3 {
		v = 1
	}
	return radio.DataRate(v)
}

func (r *Record) SetStartChannel(ch uint8) { r[byteChannel] = ch }
func (r Record) StartChannel() uint8       { return r[byteChannel] }

// SetPayloadSize clamps size to the radio maximum
func (r *Record) SetPayloadSize(size uint8) {
	if size > protocol.MAX_PAYLOAD_SIZE {
		size = protocol.MAX_PAYLOAD_SIZE
	}
	r[bytePayload] = size
}

func (r Record) PayloadSize() uint8 { return r[bytePayload] }

// SetCommsFrequency sets the session rate in packets per second
func (r *Record) SetCommsFrequency(hz uint8) { r[byteFrequency] = hz }
func (r Record) CommsFrequency() uint8       { return r[byteFrequency] }

// SetRetryDelay stores the hardware retransmit delay in 250us units
func (r *Record) SetRetryDelay(delay uint8) {
	r[byteRetry] = r[byteRetry]&^0x0F | delay&0x0F
}

func (r Record) RetryDelay() uint8 { return r[byteRetry] & 0x0F }

// SetNumChannels stores n-1 in five bits, so 1-32 channels round trip
func (r *Record) SetNumChannels(n uint8) {
	r[byteChannels] = r[byteChannels]&^0x1F | (n-1)&0x1F
}

func (r Record) NumChannels() int { return int(r[byteChannels]&0x1F) + 1 }

// SetChannelSize stores size-1 in the top three bits of byte 5
func (r *Record) SetChannelSize(size uint8) {
	r[byteChannels] = r[byteChannels]&^0xE0 | ((size-1)&0x07)<<5
}

func (r Record) ChannelSize() int { return int(r[byteChannels]>>5) + 1 }

// SetTelemetry replaces the whole telemetry bitmask
func (r *Record) SetTelemetry(mask uint8) { r[byteTelemetry] = mask }
func (r Record) Telemetry() uint8         { return r[byteTelemetry] }

// SetTelemetryChannel enables or disables one of the Telemetry* field bits
func (r *Record) SetTelemetryChannel(bit uint8, enable bool) {
	if enable {
		r[byteTelemetry] |= bit
	} else {
		r[byteTelemetry] &^= bit
	}
}

// SetAlarmCount selects 0-3 alarm bits
func (r *Record) SetAlarmCount(n uint8) {
	r[byteTelemetry] = r[byteTelemetry]&^TelemetryAlarmMask | (n<<TelemetryAlarmShift)&TelemetryAlarmMask
}

func (r Record) AlarmCount() int {
	return int(r[byteTelemetry]&TelemetryAlarmMask) >> TelemetryAlarmShift
}

// TickInterval is the session cadence derived from the comms frequency.
// A zero frequency is treated as one packet per second.
func (r Record) TickInterval() time.Duration {
	hz := r.CommsFrequency()
	if hz == 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}

// Radio maps the record onto a radio configuration at the given power
func (r Record) Radio(level radio.PALevel) radio.Config {
	return radio.Config{
		Channel:         r.StartChannel(),
		DataRate:        r.DataRate(),
		PALevel:         level,
		PayloadSize:     r.PayloadSize(),
		DynamicPayloads: r.DynamicPayload(),
		AutoAck:         r.Ack(),
		AckPayloads:     r.AckPayloadActive(),
		RetryDelay:      r.RetryDelay(),
		RetryCount:      protocol.RADIO_RETRY_COUNT,
	}
}

func (r Record) String() string {
	return fmt.Sprintf("ch=%d rate=%s size=%d dyn=%t ack=%t ackpl=%t freq=%dHz retry=%d channels=%dx%d telemetry=0x%02x",
		r.StartChannel(), r.DataRate(), r.PayloadSize(), r.DynamicPayload(), r.Ack(),
		r.AckPayload(), r.CommsFrequency(), r.RetryDelay(), r.NumChannels(), r.ChannelSize(),
		r.Telemetry())
}
