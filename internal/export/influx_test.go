package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/telemetry"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, point...)
	return nil
}

func (f *fakeWriter) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

// hangWriter blocks until the write deadline, like an unreachable server
type hangWriter struct{}

func (hangWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	<-ctx.Done()
	return ctx.Err()
}

// waitStats polls until the exporter has handled want points
func waitStats(t *testing.T, e *Exporter, want int64) (written, failed int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		written, failed, _ = e.Stats()
		if written+failed >= want || time.Now().After(deadline) {
			return written, failed
		}
		time.Sleep(time.Millisecond)
	}
}

var peer = protocol.PeerIdentity{'R', 'e', 's', 'p', '1'}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestPoint(t *testing.T) {
	tel := telemetry.NewRecord(settings.TelemetryBattery | settings.TelemetryRPM | 2<<settings.TelemetryAlarmShift)
	tel.SetBattery(12.5)
	tel.SetRPM(-300)
	tel.SetAlarm(1, true)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := Point("rc", peer, tel, ts)
	if p == nil {
		t.Fatal("Point() = nil")
	}
	if p.Name() != "rc" || !p.Time().Equal(ts) {
		t.Errorf("Point() name/time = %s/%v", p.Name(), p.Time())
	}

	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "peer" || tags[0].Value != peer.Hex() {
		t.Errorf("TagList() = %v", tags)
	}

	want := map[string]interface{}{
		"battery": 12.5,
		"rpm":     int64(-300),
		"alarm_0": false,
		"alarm_1": true,
	}
	got := fieldsOf(p)
	if len(got) != len(want) {
		t.Errorf("fields = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s = %v (%T), want %v (%T)", k, got[k], got[k], v, v)
		}
	}

	if Point("rc", peer, telemetry.NewRecord(0), ts) != nil {
		t.Error("Point() for an empty layout != nil")
	}
}

func TestExporter_Write(t *testing.T) {
	w := &fakeWriter{}
	e := newExporter(w, Config{}, nil, false)
	defer e.Close()

	tel := telemetry.NewRecord(settings.TelemetryTemperature)
	tel.SetTemperature(31)

	if err := e.Write(peer, tel, time.Now()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := e.Write(peer, telemetry.NewRecord(0), time.Now()); err != nil {
		t.Fatalf("Write(empty) error = %v", err)
	}
	if written, failed := waitStats(t, e, 1); written != 1 || failed != 0 {
		t.Fatalf("Stats() = %d, %d, want 1, 0", written, failed)
	}
	w.mu.Lock()
	name := w.points[0].Name()
	w.mu.Unlock()
	if w.count() != 1 || name != DefaultMeasurement {
		t.Fatalf("points = %d %s, want 1 %s point", w.count(), name, DefaultMeasurement)
	}

	w.setErr(errors.New("unavailable"))
	if err := e.Write(peer, tel, time.Now()); err != nil {
		t.Fatalf("Write() error = %v, want nil while queueing", err)
	}
	if written, failed := waitStats(t, e, 2); written != 1 || failed != 1 {
		t.Errorf("Stats() = %d, %d, want 1, 1", written, failed)
	}
}

// An unreachable server never holds up the caller
func TestExporter_HangingServer(t *testing.T) {
	e := newExporter(hangWriter{}, Config{Timeout: 100 * time.Millisecond, QueueSize: 2}, nil, false)

	tel := telemetry.NewRecord(settings.TelemetryRPM)
	tel.SetRPM(1200)

	start := time.Now()
	var full int
	for i := 0; i < 10; i++ {
		err := e.Write(peer, tel, time.Now())
		switch {
		case errors.Is(err, ErrQueueFull):
			full++
		case err != nil:
			t.Fatalf("Write() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("10 Write() calls took %v, want no waiting on the server", elapsed)
	}
	if full == 0 {
		t.Error("Write() never reported ErrQueueFull")
	}

	if _, failed := waitStats(t, e, 1); failed < 1 {
		t.Errorf("failed = %d, want the timed out write counted", failed)
	}
	if _, _, dropped := e.Stats(); dropped != int64(full) {
		t.Errorf("dropped = %d, want %d", dropped, full)
	}

	e.Close()
	if err := e.Write(peer, tel, time.Now()); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
}
