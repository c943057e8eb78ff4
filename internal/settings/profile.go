package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dbehnke/rclink/internal/radio"
)

// Profile is the human editable form of a Record
type Profile struct {
	DynamicPayload bool             `yaml:"dynamic_payload"`
	Ack            bool             `yaml:"ack"`
	AckPayload     bool             `yaml:"ack_payload"`
	DataRate       string           `yaml:"data_rate"`
	Channel        uint8            `yaml:"channel"`
	PayloadSize    uint8            `yaml:"payload_size"`
	CommsFrequency uint8            `yaml:"comms_frequency"`
	RetryDelay     uint8            `yaml:"retry_delay"`
	NumChannels    uint8            `yaml:"num_channels"`
	ChannelSize    uint8            `yaml:"channel_size"`
	Telemetry      TelemetryProfile `yaml:"telemetry"`
}

// TelemetryProfile selects the telemetry fields a responder reports
type TelemetryProfile struct {
	Battery     bool  `yaml:"battery"`
	Current     bool  `yaml:"current"`
	Temperature bool  `yaml:"temperature"`
	RPM         bool  `yaml:"rpm"`
	GPS         bool  `yaml:"gps"`
	Alarms      uint8 `yaml:"alarms"`
}

// ProfileFromRecord converts a record into its editable form
func ProfileFromRecord(r Record) Profile {
	mask := r.Telemetry()
	return Profile{
		DynamicPayload: r.DynamicPayload(),
		Ack:            r.Ack(),
		AckPayload:     r.AckPayload(),
		DataRate:       r.DataRate().String(),
		Channel:        r.StartChannel(),
		PayloadSize:    r.PayloadSize(),
		CommsFrequency: r.CommsFrequency(),
		RetryDelay:     r.RetryDelay(),
		NumChannels:    uint8(r.NumChannels()),
		ChannelSize:    uint8(r.ChannelSize()),
		Telemetry: TelemetryProfile{
			Battery:     mask&TelemetryBattery != 0,
			Current:     mask&TelemetryCurrent != 0,
			Temperature: mask&TelemetryTemperature != 0,
			RPM:         mask&TelemetryRPM != 0,
			GPS:         mask&TelemetryGPS != 0,
			Alarms:      uint8(r.AlarmCount()),
		},
	}
}

// Record validates the profile and encodes it. Profiles come from files, so
// unlike the record setters out-of-range values are rejected here.
func (p Profile) Record() (Record, error) {
	var r Record

	rate, err := radio.ParseDataRate(p.DataRate)
	if err != nil {
		return r, err
	}
	switch {
	case p.Channel > 127:
		return r, fmt.Errorf("channel %d out of range 0-127", p.Channel)
	case p.PayloadSize == 0 || p.PayloadSize > 32:
		return r, fmt.Errorf("payload_size %d out of range 1-32", p.PayloadSize)
	case p.CommsFrequency == 0:
		return r, fmt.Errorf("comms_frequency must be at least 1")
	case p.RetryDelay > 15:
		return r, fmt.Errorf("retry_delay %d out of range 0-15", p.RetryDelay)
	case p.NumChannels == 0 || p.NumChannels > 32:
		return r, fmt.Errorf("num_channels %d out of range 1-32", p.NumChannels)
	case p.ChannelSize == 0 || p.ChannelSize > 8:
		return r, fmt.Errorf("channel_size %d out of range 1-8", p.ChannelSize)
	case p.Telemetry.Alarms > 3:
		return r, fmt.Errorf("telemetry alarms %d out of range 0-3", p.Telemetry.Alarms)
	case p.AckPayload && !p.Ack:
		return r, fmt.Errorf("ack_payload requires ack")
	}

	r.SetDynamicPayload(p.DynamicPayload)
	r.SetAck(p.Ack)
	r.SetAckPayload(p.AckPayload)
	r.SetDataRate(rate)
	r.SetStartChannel(p.Channel)
	r.SetPayloadSize(p.PayloadSize)
	r.SetCommsFrequency(p.CommsFrequency)
	r.SetRetryDelay(p.RetryDelay)
	r.SetNumChannels(p.NumChannels)
	r.SetChannelSize(p.ChannelSize)
	r.SetTelemetryChannel(TelemetryBattery, p.Telemetry.Battery)
	r.SetTelemetryChannel(TelemetryCurrent, p.Telemetry.Current)
	r.SetTelemetryChannel(TelemetryTemperature, p.Telemetry.Temperature)
	r.SetTelemetryChannel(TelemetryRPM, p.Telemetry.RPM)
	r.SetTelemetryChannel(TelemetryGPS, p.Telemetry.GPS)
	r.SetAlarmCount(p.Telemetry.Alarms)

	return r, nil
}

// ParseProfile decodes a YAML profile. Keys that are absent keep the
// default operating profile's values.
func ParseProfile(data []byte) (Record, error) {
	p := ProfileFromRecord(New())
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Record{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p.Record()
}

// LoadProfile reads a YAML profile file
func LoadProfile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	return ParseProfile(data)
}

// MarshalProfile renders a record as YAML
func MarshalProfile(r Record) ([]byte, error) {
	return yaml.Marshal(ProfileFromRecord(r))
}
