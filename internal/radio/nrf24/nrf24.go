// Package nrf24 drives an nRF24L01+ transceiver over Linux SPI and GPIO
// using periph.io.
package nrf24

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/timing"
)

var (
	ErrNotFound  = errors.New("nrf24: chip not responding")
	ErrTimeout   = errors.New("nrf24: transmit did not complete")
	ErrListening = errors.New("nrf24: write while listening")
	ErrBadPipe   = errors.New("nrf24: pipe out of range")
)

// Config selects the bus and pins the module is wired to
type Config struct {
	SPIBus  string // spireg name, empty for the first bus
	ClockHz int64  // 8MHz when zero
	CEPin   string // gpioreg name, e.g. GPIO25

	Logger *log.Logger
	Debug  bool
	Clock  timing.Clock
}

// bus is the part of spi.Conn the driver uses
type bus interface {
	Tx(w, r []byte) error
}

// outPin is the part of gpio.PinOut the driver uses
type outPin interface {
	Out(l gpio.Level) error
}

// Device is one nRF24L01+ module
type Device struct {
	mu     sync.Mutex
	conn   bus
	ce     outPin
	port   spi.PortCloser
	clock  timing.Clock
	logger *log.Logger
	debug  bool

	cfg       radio.Config
	dynpd     uint8
	pipe0     *radio.Address // reading address on pipe 0, restored when listening
	listening bool

	ack    [radio.MaxPayloadSize]byte
	ackLen int
	ackSet bool
}

var _ radio.Link = (*Device)(nil)

// Open initializes periph.io, opens the SPI port and the CE pin and
// powers the radio up
func Open(cfg Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	p, err := spireg.Open(cfg.SPIBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.SPIBus, err)
	}

	if cfg.ClockHz == 0 {
		cfg.ClockHz = 8000000
	}
	conn, err := p.Connect(physic.Frequency(cfg.ClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	ce := gpioreg.ByName(cfg.CEPin)
	if ce == nil {
		p.Close()
		return nil, fmt.Errorf("failed to open CE pin %s", cfg.CEPin)
	}

	d, err := newDevice(conn, ce, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	d.port = p
	return d, nil
}

func newDevice(conn bus, ce outPin, cfg Config) (*Device, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = timing.SystemClock{}
	}

	d := &Device{
		conn:   conn,
		ce:     ce,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		debug:  cfg.Debug,
		cfg:    radio.Config{PayloadSize: radio.MaxPayloadSize, AutoAck: true},
	}

	d.setCE(false)
	d.writeRegister(regConfig, 0)
	d.writeRegister(regSetupAW, addressWidth-2)
	if got := d.readRegister(regSetupAW); got != addressWidth-2 {
		return nil, fmt.Errorf("%w: SETUP_AW reads %#02x", ErrNotFound, got)
	}

	d.clearStatus()
	d.command(cmdFlushTX)
	d.command(cmdFlushRX)
	d.writeRegister(regConfig, configEnCRC|configCRCO|configPwrUp)
	d.clock.Sleep(5 * time.Millisecond)

	if err := d.Configure(d.cfg); err != nil {
		return nil, err
	}
	d.logger.Printf("nrf24: radio powered up")
	return d, nil
}

// Close powers the radio down and releases the SPI port
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	d.writeRegister(regConfig, d.readRegister(regConfig)&^configPwrUp)
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

// Configure writes every tunable register. Ack payloads turn on dynamic
// payload length for pipes 0 and 1, as the chip requires.
func (d *Device) Configure(c radio.Config) error {
	if c.Channel >= maxChannel {
		return fmt.Errorf("nrf24: channel %d out of range", c.Channel)
	}
	if c.PayloadSize == 0 || c.PayloadSize > radio.MaxPayloadSize {
		c.PayloadSize = radio.MaxPayloadSize
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeRegister(regRFCh, c.Channel)
	d.writeRegister(regRFSetup, rfSetup(c.DataRate, c.PALevel))
	d.writeRegister(regSetupRetr, (c.RetryDelay&0x0F)<<4|c.RetryCount&0x0F)

	if c.AutoAck {
		d.writeRegister(regEnAA, allPipes)
	} else {
		d.writeRegister(regEnAA, 0)
	}

	feature := uint8(featureEnDynAck)
	d.dynpd = 0
	switch {
	case c.DynamicPayloads:
		feature |= featureEnDPL
		d.dynpd = allPipes
	case c.AckPayloads:
		d.dynpd = ackPipes
	}
	if c.AckPayloads {
		feature |= featureEnAckPay | featureEnDPL
	}
	d.writeRegister(regFeature, feature)
	d.writeRegister(regDynPD, d.dynpd)

	for p := uint8(0); p < 6; p++ {
		d.writeRegister(regRxPwP0+p, c.PayloadSize)
	}

	d.cfg = c
	if d.debug {
		d.logger.Printf("nrf24: configured %v", c)
	}
	return nil
}

func rfSetup(rate radio.DataRate, pa radio.PALevel) uint8 {
	var v uint8
	switch rate {
	case radio.DataRate2Mbps:
		v |= rfDRHigh
	case radio.DataRate250Kbps:
		v |= rfDRLow
	}
	return v | uint8(pa&3)<<1
}

// OpenWritingPipe sets TX_ADDR and mirrors it on pipe 0 to receive acks
func (d *Device) OpenWritingPipe(addr radio.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeRegisterN(regRxAddrP0, addr[:])
	d.writeRegisterN(regTxAddr, addr[:])
	return nil
}

func (d *Device) OpenReadingPipe(pipe uint8, addr radio.Address) error {
	if pipe > 5 {
		return fmt.Errorf("%w: %d", ErrBadPipe, pipe)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch pipe {
	case 0:
		a := addr
		d.pipe0 = &a
		fallthrough
	case 1:
		d.writeRegisterN(regRxAddrP0+pipe, addr[:])
	default:
		// Pipes 2-5 share the upper bytes of pipe 1
		d.writeRegister(regRxAddrP0+pipe, addr[0])
	}
	d.writeRegister(regEnRxAddr, d.readRegister(regEnRxAddr)|1<<pipe)
	return nil
}

func (d *Device) StartListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeRegister(regConfig, d.readRegister(regConfig)|configPrimRX)
	d.clearStatus()
	if d.pipe0 != nil {
		d.writeRegisterN(regRxAddrP0, d.pipe0[:])
	}
	d.setCE(true)
	d.clock.Sleep(130 * time.Microsecond)
	d.listening = true
	return nil
}

func (d *Device) StopListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	if d.cfg.AckPayloads {
		d.command(cmdFlushTX)
	}
	d.writeRegister(regConfig, d.readRegister(regConfig)&^configPrimRX)
	d.writeRegister(regEnRxAddr, d.readRegister(regEnRxAddr)|1)
	d.listening = false
	return nil
}

// Write loads one payload, pulses CE and polls STATUS until the chip
// reports TX_DS or MAX_RT. An ack payload that arrives with TX_DS is kept
// for ReadAckPayload.
func (d *Device) Write(buf []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listening {
		return false, ErrListening
	}
	d.ackSet = false

	size := int(d.cfg.PayloadSize)
	if d.cfg.DynamicPayloads {
		size = min(max(len(buf), 1), radio.MaxPayloadSize)
	}
	payload := make([]byte, 1+size)
	payload[0] = cmdWritePayload
	copy(payload[1:], buf)
	d.transfer(payload)

	d.setCE(true)
	d.clock.Sleep(15 * time.Microsecond)
	d.setCE(false)

	// Worst case air time for every retry plus slack
	limit := time.Duration(d.cfg.RetryCount+1)*time.Duration(d.cfg.RetryDelay+1)*250*time.Microsecond + 10*time.Millisecond
	timer := timing.NewTimer(d.clock, limit)
	timer.Start()

	for {
		status := d.status()
		switch {
		case status&statusTXDS != 0:
			if status&statusRXDR != 0 {
				d.ackLen = d.readPayload(d.ack[:], 0)
				d.ackSet = true
			}
			d.clearStatus()
			return true, nil

		case status&statusMaxRT != 0:
			d.clearStatus()
			d.command(cmdFlushTX)
			if d.debug {
				d.logger.Printf("nrf24: no ack after %d retries", d.readRegister(regObserveTX)&0x0F)
			}
			return false, nil
		}

		if timer.HasExpired() {
			d.clearStatus()
			d.command(cmdFlushTX)
			return false, ErrTimeout
		}
		d.clock.Sleep(100 * time.Microsecond)
	}
}

func (d *Device) Available() (uint8, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pipe := (d.status() & statusRxPNo) >> 1
	if pipe == rxPipeEmpty {
		return 0, false, nil
	}
	return pipe, true, nil
}

func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pipe := (d.status() & statusRxPNo) >> 1
	if pipe == rxPipeEmpty {
		return 0, nil
	}
	n := d.readPayload(buf, pipe)
	d.writeRegister(regStatus, statusRXDR)
	return n, nil
}

// readPayload pops the head of the RX FIFO. Call with the lock held.
func (d *Device) readPayload(buf []byte, pipe uint8) int {
	width := int(d.cfg.PayloadSize)
	if d.dynpd&(1<<pipe) != 0 {
		width = int(d.command2(cmdReadPayloadWid))
		if width > radio.MaxPayloadSize {
			// Corrupt length, the datasheet says to flush
			d.command(cmdFlushRX)
			return 0
		}
	}

	cmd := make([]byte, 1+width)
	cmd[0] = cmdReadPayload
	for i := 1; i < len(cmd); i++ {
		cmd[i] = cmdNOP
	}
	rx := d.transfer(cmd)
	return copy(buf, rx[1:])
}

func (d *Device) WriteAckPayload(pipe uint8, buf []byte) error {
	if pipe > 5 {
		return fmt.Errorf("%w: %d", ErrBadPipe, pipe)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := min(len(buf), radio.MaxPayloadSize)
	cmd := make([]byte, 1+n)
	cmd[0] = cmdWriteAckPayload | pipe
	copy(cmd[1:], buf[:n])
	d.transfer(cmd)
	return nil
}

func (d *Device) ReadAckPayload(buf []byte) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ackSet {
		return 0, false, nil
	}
	d.ackSet = false
	return copy(buf, d.ack[:d.ackLen]), true, nil
}

func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.command(cmdFlushRX)
	return nil
}

// --- SPI helpers, called with the lock held ---

func (d *Device) transfer(w []byte) []byte {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		d.logger.Printf("nrf24: SPI transfer error: %v", err)
		return r
	}
	return r
}

func (d *Device) command(cmd uint8) uint8 {
	return d.transfer([]byte{cmd})[0]
}

// command2 sends cmd and returns the byte clocked out after the status
func (d *Device) command2(cmd uint8) uint8 {
	return d.transfer([]byte{cmd, cmdNOP})[1]
}

func (d *Device) status() uint8 {
	return d.command(cmdNOP)
}

func (d *Device) readRegister(reg uint8) uint8 {
	return d.command2(cmdReadRegister | reg)
}

func (d *Device) writeRegister(reg, v uint8) {
	d.transfer([]byte{cmdWriteRegister | reg, v})
}

func (d *Device) writeRegisterN(reg uint8, v []byte) {
	d.transfer(append([]byte{cmdWriteRegister | reg}, v...))
}

func (d *Device) clearStatus() {
	d.writeRegister(regStatus, statusRXDR|statusTXDS|statusMaxRT)
}

func (d *Device) setCE(high bool) {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := d.ce.Out(level); err != nil {
		d.logger.Printf("nrf24: CE pin error: %v", err)
	}
}
