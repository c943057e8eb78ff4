// Package export ships controller-side telemetry to InfluxDB.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/telemetry"
)

const (
	// DefaultMeasurement is used when Config.Measurement is empty
	DefaultMeasurement = "rc_telemetry"

	DefaultTimeout   = 2 * time.Second
	DefaultQueueSize = 64
)

var (
	ErrQueueFull = errors.New("export queue full")
	ErrClosed    = errors.New("exporter closed")
)

// Config holds the InfluxDB connection
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	Timeout   time.Duration // Per point write deadline
	QueueSize int           // Points buffered ahead of the writer
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Exporter queues one point per telemetry report and writes them from its
// own goroutine. Write never waits on the network.
type Exporter struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
	timeout     time.Duration
	logger      *log.Logger
	debug       bool

	queue  chan *write.Point
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// New connects a blocking writer to the configured bucket and starts the
// export goroutine
func New(cfg Config, logger *log.Logger, debug bool) *Exporter {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	e := newExporter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg, logger, debug)
	e.client = client
	return e
}

func newExporter(w pointWriter, cfg Config, logger *log.Logger, debug bool) *Exporter {
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		writer:      w,
		measurement: cfg.Measurement,
		timeout:     cfg.Timeout,
		logger:      logger,
		debug:       debug,
		queue:       make(chan *write.Point, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Point builds the InfluxDB point for one report. Only fields enabled in
// the record's layout are written. It returns nil when nothing is enabled.
func Point(measurement string, peer protocol.PeerIdentity, tel *telemetry.Record, ts time.Time) *write.Point {
	if tel == nil || tel.Size() == 0 {
		return nil
	}

	fields := make(map[string]interface{})
	if tel.Enabled(telemetry.FieldBattery) {
		fields["battery"] = tel.Battery()
	}
	if tel.Enabled(telemetry.FieldCurrent) {
		fields["current"] = tel.Current()
	}
	if tel.Enabled(telemetry.FieldTemperature) {
		fields["temperature"] = int64(tel.Temperature())
	}
	if tel.Enabled(telemetry.FieldRPM) {
		fields["rpm"] = int64(tel.RPM())
	}
	if tel.Enabled(telemetry.FieldGPS) {
		x, y, z := tel.GPS()
		fields["gps_x"] = x
		fields["gps_y"] = y
		fields["gps_z"] = z
	}
	for i := 0; i < tel.Layout().AlarmCount(); i++ {
		fields[fmt.Sprintf("alarm_%d", i)] = tel.Alarm(i)
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{"peer": peer.Hex()},
		fields,
		ts,
	)
}

// Write queues the report. A record without enabled fields is skipped.
// When the writer falls behind the point is dropped and ErrQueueFull is
// returned.
func (e *Exporter) Write(peer protocol.PeerIdentity, tel *telemetry.Record, ts time.Time) error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	p := Point(e.measurement, peer, tel, ts)
	if p == nil {
		return nil
	}
	select {
	case e.queue <- p:
		return nil
	default:
		e.dropped.Add(1)
		return ErrQueueFull
	}
}

func (e *Exporter) run() {
	defer e.wg.Done()

	failing := false
	for {
		select {
		case <-e.ctx.Done():
			return
		case p := <-e.queue:
			err := e.send(p)
			switch {
			case err == nil:
				e.written.Add(1)
				if failing {
					e.logger.Printf("export: InfluxDB writes recovered")
					failing = false
				}
			case e.ctx.Err() != nil:
				return
			default:
				e.failed.Add(1)
				if !failing || e.debug {
					e.logger.Printf("export: %v", err)
				}
				failing = true
			}
		}
	}
}

func (e *Exporter) send(p *write.Point) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	if err := e.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	if e.debug {
		e.logger.Printf("export: wrote %s", p.Name())
	}
	return nil
}

// Stats returns the number of written, failed and dropped points
func (e *Exporter) Stats() (written, failed, dropped int64) {
	return e.written.Load(), e.failed.Load(), e.dropped.Load()
}

// Close stops the export goroutine, discarding queued points, and releases
// the client
func (e *Exporter) Close() {
	e.cancel()
	e.wg.Wait()
	if e.client != nil {
		e.client.Close()
	}
}
