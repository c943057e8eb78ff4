package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
)

// Radio drivers
const (
	DriverSim    = "sim"
	DriverNRF24  = "nrf24"
	DriverSerial = "serial"
)

// Config represents the rclink host configuration
type Config struct {
	filename string

	// General section
	role     string
	identity string
	peer     string
	debug    bool

	// Radio section
	driver     string
	spiBus     string
	spiClockHz uint32
	cePin      string
	serialPort string
	serialBaud uint32

	// Profile section
	profileFile string

	// Timing section, milliseconds
	pairTimeout    uint32
	connectTimeout uint32
	pollInterval   uint32
	settleDelay    uint32

	// Database section
	databaseEnabled bool
	databasePath    string
	databaseDebug   bool

	// InfluxDB section
	influxEnabled     bool
	influxURL         string
	influxToken       string
	influxOrg         string
	influxBucket      string
	influxMeasurement string
	influxEvery       uint32

	// Log section
	logFilePath string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Set reasonable defaults
		role:       "controller",
		driver:     DriverSim,
		spiBus:     "",
		spiClockHz: 8000000,
		cePin:      "GPIO25",
		serialPort: "/dev/ttyUSB0",
		serialBaud: 115200,

		pairTimeout:    uint32(protocol.RC_TIMEOUT / time.Millisecond),
		connectTimeout: uint32(protocol.RC_CONNECT_TIMEOUT / time.Millisecond),
		pollInterval:   uint32(protocol.RC_POLL_INTERVAL / time.Millisecond),
		settleDelay:    uint32(protocol.RC_SETTLE_DELAY / time.Millisecond),

		databaseEnabled: true,
		databasePath:    "data/rclink.db",

		influxMeasurement: "rc_telemetry",
		influxEvery:       10,
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %v", c.filename, err)
	}
	defer file.Close()

	return c.parseINI(file)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parseINIString(data)
}

func (c *Config) parseINI(file *os.File) error {
	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}

		// Check for section header
		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Parse based on current section
		switch currentSection {
		case "General":
			c.parseGeneralSection(key, value)
		case "Radio":
			c.parseRadioSection(key, value)
		case "Profile":
			if key == "File" {
				c.profileFile = value
			}
		case "Timing":
			c.parseTimingSection(key, value)
		case "Database":
			c.parseDatabaseSection(key, value)
		case "InfluxDB":
			c.parseInfluxSection(key, value)
		case "Log":
			if key == "FilePath" {
				c.logFilePath = value
			}
		}
	}

	return scanner.Err()
}

func (c *Config) parseGeneralSection(key, value string) {
	switch key {
	case "Role":
		c.role = strings.ToLower(value)
	case "Identity":
		c.identity = value
	case "Peer":
		c.peer = value
	case "Debug":
		c.debug = c.parseBool(value)
	}
}

func (c *Config) parseRadioSection(key, value string) {
	switch key {
	case "Driver":
		c.driver = strings.ToLower(value)
	case "SPIBus":
		c.spiBus = value
	case "SPIClockHz":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.spiClockHz = uint32(v)
		}
	case "CEPin":
		c.cePin = value
	case "SerialPort":
		c.serialPort = value
	case "SerialBaud":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.serialBaud = uint32(v)
		}
	}
}

func (c *Config) parseTimingSection(key, value string) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return
	}
	switch key {
	case "PairTimeout":
		c.pairTimeout = uint32(v)
	case "ConnectTimeout":
		c.connectTimeout = uint32(v)
	case "PollInterval":
		c.pollInterval = uint32(v)
	case "SettleDelay":
		c.settleDelay = uint32(v)
	}
}

func (c *Config) parseDatabaseSection(key, value string) {
	switch key {
	case "Enabled":
		c.databaseEnabled = c.parseBool(value)
	case "Path":
		c.databasePath = value
	case "Debug":
		c.databaseDebug = c.parseBool(value)
	}
}

func (c *Config) parseInfluxSection(key, value string) {
	switch key {
	case "Enabled":
		c.influxEnabled = c.parseBool(value)
	case "URL":
		c.influxURL = value
	case "Token":
		c.influxToken = value
	case "Org":
		c.influxOrg = value
	case "Bucket":
		c.influxBucket = value
	case "Measurement":
		c.influxMeasurement = value
	case "Every":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil && v > 0 {
			c.influxEvery = uint32(v)
		}
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	if _, err := protocol.ParseRole(c.role); err != nil {
		return err
	}
	id, err := protocol.ParseIdentity(c.identity)
	if err != nil {
		return fmt.Errorf("[General] Identity: %w", err)
	}
	if !id.Valid() {
		return fmt.Errorf("[General] Identity %s is reserved", id)
	}
	if c.peer != "" {
		if _, err := protocol.ParseIdentity(c.peer); err != nil {
			return fmt.Errorf("[General] Peer: %w", err)
		}
	}
	switch c.driver {
	case DriverSim, DriverNRF24, DriverSerial:
	default:
		return fmt.Errorf("[Radio] unknown driver %q", c.driver)
	}
	if c.influxEnabled && (c.influxURL == "" || c.influxBucket == "") {
		return fmt.Errorf("[InfluxDB] URL and Bucket are required when enabled")
	}
	return nil
}

func ms(v uint32) time.Duration { return time.Duration(v) * time.Millisecond }

// Getter methods for General section
func (c *Config) GetRole() protocol.Role {
	r, _ := protocol.ParseRole(c.role)
	return r
}
func (c *Config) GetIdentity() protocol.PeerIdentity {
	id, _ := protocol.ParseIdentity(c.identity)
	return id
}

// GetPeer returns the configured peer, or NoPeer when unset
func (c *Config) GetPeer() protocol.PeerIdentity {
	id, err := protocol.ParseIdentity(c.peer)
	if err != nil {
		return protocol.NoPeer
	}
	return id
}
func (c *Config) GetDebug() bool { return c.debug }

// Getter methods for Radio section
func (c *Config) GetDriver() string      { return c.driver }
func (c *Config) GetSPIBus() string      { return c.spiBus }
func (c *Config) GetSPIClockHz() uint32  { return c.spiClockHz }
func (c *Config) GetCEPin() string       { return c.cePin }
func (c *Config) GetSerialPort() string  { return c.serialPort }
func (c *Config) GetSerialBaud() uint32  { return c.serialBaud }
func (c *Config) GetProfileFile() string { return c.profileFile }

// Getter methods for Timing section
func (c *Config) GetPairTimeout() time.Duration    { return ms(c.pairTimeout) }
func (c *Config) GetConnectTimeout() time.Duration { return ms(c.connectTimeout) }
func (c *Config) GetPollInterval() time.Duration   { return ms(c.pollInterval) }
func (c *Config) GetSettleDelay() time.Duration    { return ms(c.settleDelay) }

// Getter methods for Database section
func (c *Config) GetDatabaseEnabled() bool { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string  { return c.databasePath }
func (c *Config) GetDatabaseDebug() bool   { return c.databaseDebug }

// Getter methods for InfluxDB section
func (c *Config) GetInfluxEnabled() bool       { return c.influxEnabled }
func (c *Config) GetInfluxURL() string         { return c.influxURL }
func (c *Config) GetInfluxToken() string       { return c.influxToken }
func (c *Config) GetInfluxOrg() string         { return c.influxOrg }
func (c *Config) GetInfluxBucket() string      { return c.influxBucket }
func (c *Config) GetInfluxMeasurement() string { return c.influxMeasurement }
func (c *Config) GetInfluxEvery() uint32       { return c.influxEvery }

// Getter methods for Log section
func (c *Config) GetLogFilePath() string { return c.logFilePath }
