package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dbehnke/rclink/internal/radio"
)

func TestParseProfile(t *testing.T) {
	data := `
ack: false
ack_payload: false
data_rate: 250kbps
channel: 76
payload_size: 16
comms_frequency: 50
num_channels: 8
telemetry:
  battery: true
  rpm: true
  alarms: 2
`
	r, err := ParseProfile([]byte(data))
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}

	if r.Ack() || r.AckPayload() {
		t.Errorf("Ack/AckPayload = %t/%t, want false/false", r.Ack(), r.AckPayload())
	}
	if r.DataRate() != radio.DataRate250Kbps {
		t.Errorf("DataRate() = %v, want 250kbps", r.DataRate())
	}
	if r.StartChannel() != 76 {
		t.Errorf("StartChannel() = %d, want 76", r.StartChannel())
	}
	if r.PayloadSize() != 16 {
		t.Errorf("PayloadSize() = %d, want 16", r.PayloadSize())
	}
	if r.NumChannels() != 8 {
		t.Errorf("NumChannels() = %d, want 8", r.NumChannels())
	}
	// Absent keys keep the defaults
	if r.RetryDelay() != 15 {
		t.Errorf("RetryDelay() = %d, want 15", r.RetryDelay())
	}
	if r.ChannelSize() != 2 {
		t.Errorf("ChannelSize() = %d, want 2", r.ChannelSize())
	}
	want := TelemetryBattery | TelemetryRPM | 2<<TelemetryAlarmShift
	if r.Telemetry() != want {
		t.Errorf("Telemetry() = %#02x, want %#02x", r.Telemetry(), want)
	}
}

func TestParseProfile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"channel", "channel: 200"},
		{"payload size", "payload_size: 40"},
		{"zero payload size", "payload_size: 0"},
		{"frequency", "comms_frequency: 0"},
		{"retry", "retry_delay: 16"},
		{"channels", "num_channels: 33"},
		{"alarms", "telemetry:\n  alarms: 4"},
		{"rate", "data_rate: 3mbps"},
		{"ack payload without ack", "ack: false\nack_payload: true"},
		{"not yaml", "channel: [1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProfile([]byte(tt.data)); err == nil {
				t.Errorf("ParseProfile(%q) error = nil, want error", tt.data)
			}
		})
	}
}

func TestLoadProfile_MarshalRoundTrip(t *testing.T) {
	r := New()
	r.SetStartChannel(100)
	r.SetTelemetry(TelemetryGPS | TelemetryTemperature | 3<<TelemetryAlarmShift)

	data, err := MarshalProfile(r)
	if err != nil {
		t.Fatalf("MarshalProfile() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if got != r {
		t.Errorf("LoadProfile() = %v, want %v", got, r)
	}

	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadProfile(missing) error = nil, want error")
	}
}
