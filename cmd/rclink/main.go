package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dbehnke/rclink/internal/config"
	"github.com/dbehnke/rclink/internal/database"
	"github.com/dbehnke/rclink/internal/export"
	"github.com/dbehnke/rclink/internal/link"
	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/radio/nrf24"
	"github.com/dbehnke/rclink/internal/radio/serialbridge"
	"github.com/dbehnke/rclink/internal/radio/sim"
	"github.com/dbehnke/rclink/internal/settings"
)

const (
	VERSION       = "1.0.0"
	TEMP_ALARM    = 70
	RECENT_EVENTS = 20
)

// App owns everything built from the configuration file
type App struct {
	config  *config.Config
	logger  *log.Logger
	out     io.Writer
	logFile *os.File

	db    *database.DB
	repo  *database.Repository
	store Store

	radio    radio.Link
	closers  []io.Closer
	medium   *sim.Medium
	exporter *export.Exporter
	profile  settings.Record
}

// NewApp loads the configuration and opens storage, radio and exporter
func NewApp(configFile string) (*App, error) {
	cfg := config.NewConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	app := &App{
		config:  cfg,
		logger:  log.Default(),
		out:     os.Stderr,
		profile: settings.New(),
	}

	// Everything below logs, so the file tee goes in first
	if path := cfg.GetLogFilePath(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}
		app.logFile = f
		app.out = io.MultiWriter(os.Stderr, f)
		log.SetOutput(app.out)
	}

	if path := cfg.GetProfileFile(); path != "" {
		rec, err := settings.LoadProfile(path)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.profile = rec
	}

	if cfg.GetDatabaseEnabled() {
		db, err := database.NewDB(database.Config{
			Path:  cfg.GetDatabasePath(),
			Debug: cfg.GetDatabaseDebug(),
		}, app.newLogger("[DB] "))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open database: %v", err)
		}
		app.db = db
		app.repo = database.NewRepository(db.GetDB())
		if err := app.repo.HealthCheck(); err != nil {
			app.Close()
			return nil, fmt.Errorf("database health check failed: %v", err)
		}
		app.store = app.repo
	} else {
		log.Printf("Database disabled, pairings are kept in memory only")
		app.store = link.NewMemoryStore()
	}

	if err := app.openRadio(); err != nil {
		app.Close()
		return nil, err
	}

	if cfg.GetInfluxEnabled() && cfg.GetRole() == protocol.RoleController {
		app.exporter = export.New(export.Config{
			URL:         cfg.GetInfluxURL(),
			Token:       cfg.GetInfluxToken(),
			Org:         cfg.GetInfluxOrg(),
			Bucket:      cfg.GetInfluxBucket(),
			Measurement: cfg.GetInfluxMeasurement(),
		}, app.newLogger("[INFLUX] "), cfg.GetDebug())
	}

	return app, nil
}

// newLogger builds a component logger on the same output as the main log
func (a *App) newLogger(prefix string) *log.Logger {
	return log.New(a.out, prefix, log.LstdFlags)
}

func (a *App) openRadio() error {
	cfg := a.config
	switch cfg.GetDriver() {
	case config.DriverSim:
		a.medium = sim.NewMedium()
		a.radio = a.medium.NewLink(cfg.GetIdentity().String())

	case config.DriverNRF24:
		dev, err := nrf24.Open(nrf24.Config{
			SPIBus:  cfg.GetSPIBus(),
			ClockHz: int64(cfg.GetSPIClockHz()),
			CEPin:   cfg.GetCEPin(),
			Logger:  a.logger,
			Debug:   cfg.GetDebug(),
		})
		if err != nil {
			return err
		}
		a.radio = dev
		a.closers = append(a.closers, dev)

	case config.DriverSerial:
		b, err := serialbridge.Open(serialbridge.Config{
			Device: cfg.GetSerialPort(),
			Baud:   int(cfg.GetSerialBaud()),
		}, a.logger, cfg.GetDebug())
		if err != nil {
			return err
		}
		a.radio = b
		a.closers = append(a.closers, b)
	}
	log.Printf("Radio: %s", cfg.GetDriver())
	return nil
}

func (a *App) timeouts() link.Timeouts {
	return link.Timeouts{
		Pair:       a.config.GetPairTimeout(),
		Connect:    a.config.GetConnectTimeout(),
		Poll:       a.config.GetPollInterval(),
		Settle:     a.config.GetSettleDelay(),
		Turnaround: protocol.RC_TURNAROUND,
	}
}

func (a *App) events() link.EventRecorder {
	if a.repo == nil {
		return nil
	}
	return a.repo
}

// known reports whether this unit has a peer to connect to without pairing
func (a *App) known(peer protocol.PeerIdentity) (bool, error) {
	if a.config.GetRole() == protocol.RoleResponder {
		_, ok, err := a.store.LoadPeer()
		return ok, err
	}
	if !peer.IsNoPeer() {
		_, ok, err := a.store.LoadSettings(peer)
		return ok, err
	}
	last, err := a.store.LoadLastPeer()
	return !last.IsNoPeer(), err
}

// Run drives the configured role. With the sim driver a counterpart of the
// other role runs on the same medium and both start by pairing.
func (a *App) Run(ctx context.Context, mode string, peer protocol.PeerIdentity) error {
	cfg := a.config
	role := cfg.GetRole()

	known, err := a.known(peer)
	if err != nil {
		return err
	}
	if a.medium != nil {
		known = false
	}
	plan, err := PlanFor(mode, known)
	if err != nil {
		return err
	}

	node := &Node{
		Name: role.String(),
		Options: link.Options{
			Radio:    a.radio,
			Identity: cfg.GetIdentity(),
			Timeouts: a.timeouts(),
			Logger:   a.logger,
			Debug:    cfg.GetDebug(),
			Events:   a.events(),
		},
		Store:       a.store,
		Profile:     a.profile,
		Peer:        peer,
		Logger:      a.logger,
		Exporter:    a.exporter,
		ExportEvery: int(cfg.GetInfluxEvery()),
		Sensors:     HostSensors(THERMAL_ZONE, TEMP_ALARM),
	}

	log.Printf("%s %s starting, plan %+v", role, cfg.GetIdentity(), plan)

	if a.medium == nil {
		return node.Run(ctx, role, plan)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := a.loopback(role)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx, otherRole(role), plan); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("loopback: %v", err)
		}
	}()

	err = node.Run(ctx, role, plan)
	cancel()
	wg.Wait()
	return err
}

// loopback builds the in-process counterpart used with the sim driver
func (a *App) loopback(role protocol.Role) *Node {
	id := protocol.PeerIdentity{'L', 'o', 'o', 'p', '1'}
	if id == a.config.GetIdentity() {
		id[4] = '2'
	}
	logger := a.newLogger("[LOOP] ")

	n := &Node{
		Name: "loopback " + otherRole(role).String(),
		Options: link.Options{
			Radio:    a.medium.NewLink(id.String()),
			Identity: id,
			Timeouts: a.timeouts(),
			Logger:   logger,
			Debug:    a.config.GetDebug(),
		},
		Store:   link.NewMemoryStore(),
		Profile: a.profile,
		Logger:  logger,
	}
	if role == protocol.RoleController {
		n.Sensors = SimSensors()
	}
	return n
}

func otherRole(r protocol.Role) protocol.Role {
	if r == protocol.RoleController {
		return protocol.RoleResponder
	}
	return protocol.RoleController
}

// List prints stored pairings and the recent session log
func (a *App) List(w io.Writer) error {
	if a.repo == nil {
		return errors.New("list needs [Database] Enabled=1")
	}
	count, err := a.repo.Count()
	if err != nil {
		return err
	}
	pairings, err := a.repo.ListPairings()
	if err != nil {
		return err
	}
	state, err := a.repo.State()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%d paired peer(s)\n", count)
	for _, p := range pairings {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintf(w, "state: peer=%q last=%q connected=%t\n", state.Peer, state.LastPeer, state.Connected)

	events, err := a.repo.RecentEvents(RECENT_EVENTS)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

// Forget deletes the pairing with peer
func (a *App) Forget(peer protocol.PeerIdentity) error {
	if a.repo == nil {
		return errors.New("forget needs [Database] Enabled=1")
	}
	if peer.IsNoPeer() {
		return errors.New("forget needs -peer or [General] Peer")
	}
	if err := a.repo.DeletePairing(peer); err != nil {
		return err
	}
	log.Printf("Forgot %s", peer)
	return nil
}

// Close releases the radio, exporter, database and log file
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	if a.exporter != nil {
		a.exporter.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("database close: %v", err)
		}
	}
	if a.logFile != nil {
		log.SetOutput(os.Stderr)
		a.logFile.Close()
		a.logFile = nil
	}
}

func main() {
	var (
		configFile = flag.String("config", getDefaultConfig(), "Configuration file path")
		mode       = flag.String("mode", "run", "pair | connect | run | list | forget")
		peerFlag   = flag.String("peer", "", "Peer identity, overrides [General] Peer")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("rclink v%s\n", VERSION)
		return
	}

	// Handle non-flag arguments (config file)
	if flag.NArg() > 0 {
		*configFile = flag.Arg(0)
	}

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("rclink v%s starting with config: %s", VERSION, *configFile)

	app, err := NewApp(*configFile)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.Close()

	peer := app.config.GetPeer()
	if *peerFlag != "" {
		peer, err = protocol.ParseIdentity(*peerFlag)
		if err != nil {
			log.Fatalf("Bad -peer: %v", err)
		}
	}

	switch *mode {
	case "list":
		if err := app.List(os.Stdout); err != nil {
			log.Fatalf("List failed: %v", err)
		}
		return
	case "forget":
		if err := app.Forget(peer); err != nil {
			log.Fatalf("Forget failed: %v", err)
		}
		return
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := app.Run(ctx, *mode, peer); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("rclink error: %v", err)
		app.Close()
		os.Exit(1)
	}

	log.Printf("rclink stopped")
}

// getDefaultConfig returns the default configuration file path
func getDefaultConfig() string {
	// Check for config file in current directory first
	if _, err := os.Stat("rclink.ini"); err == nil {
		return "rclink.ini"
	}

	// Check system location
	systemConfig := "/etc/rclink.ini"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig
	}

	// Default to current directory
	return "rclink.ini"
}
