package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/telemetry"
)

func TestPlanFor(t *testing.T) {
	tests := []struct {
		mode    string
		known   bool
		want    Plan
		wantErr bool
	}{
		{"pair", false, Plan{Pair: true}, false},
		{"pair", true, Plan{Pair: true}, false},
		{"connect", false, Plan{Pair: true, Connect: true}, false},
		{"connect", true, Plan{Connect: true}, false},
		{"run", false, Plan{Pair: true, Connect: true}, false},
		{"run", true, Plan{Resume: true, Connect: true}, false},
		{"list", true, Plan{}, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%t", tt.mode, tt.known), func(t *testing.T) {
			got, err := PlanFor(tt.mode, tt.known)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PlanFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PlanFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{protocol.ErrTimeout, true},
		{fmt.Errorf("connect: %w", protocol.ErrConnectionRefused), true},
		{protocol.ErrPacketNotSent, true},
		{protocol.ErrUnknownPeer, false},
		{os.ErrNotExist, false},
	}

	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %t, want %t", tt.err, got, tt.want)
		}
	}
}

func TestSweep(t *testing.T) {
	channels := make([]uint16, 8)
	for tick := 0; tick < 2*SWEEP_TICKS; tick++ {
		Sweep(tick, channels)
		for i, v := range channels {
			if v < CHANNEL_CENTER-CHANNEL_SPAN || v > CHANNEL_CENTER+CHANNEL_SPAN {
				t.Fatalf("tick %d channel %d = %d, out of range", tick, i, v)
			}
		}
	}

	Sweep(0, channels)
	if channels[0] != CHANNEL_CENTER {
		t.Errorf("channel 0 at tick 0 = %d, want %d", channels[0], CHANNEL_CENTER)
	}
}

func writeThermal(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadThermal(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int8
		wantOK  bool
	}{
		{"normal", "48312\n", 48, true},
		{"negative", "-5000", -5, true},
		{"clamped", "250000", 127, true},
		{"garbage", "hot", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := readThermal(writeThermal(t, tt.content))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("readThermal() = %d, %t, want %d, %t", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if _, ok := readThermal(filepath.Join(t.TempDir(), "missing")); ok {
		t.Error("readThermal(missing) ok = true")
	}
}

func TestHostSensors(t *testing.T) {
	tel := telemetry.NewRecord(settings.TelemetryTemperature | 1<<settings.TelemetryAlarmShift)

	HostSensors(writeThermal(t, "75000"), 70)(tel)
	if tel.Temperature() != 75 || !tel.Alarm(0) {
		t.Errorf("hot: temperature %d alarm %t, want 75 true", tel.Temperature(), tel.Alarm(0))
	}

	HostSensors(writeThermal(t, "40000"), 70)(tel)
	if tel.Temperature() != 40 || tel.Alarm(0) {
		t.Errorf("cool: temperature %d alarm %t, want 40 false", tel.Temperature(), tel.Alarm(0))
	}
}
