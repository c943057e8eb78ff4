package nrf24

// SPI commands
const (
	cmdReadRegister    = 0x00
	cmdWriteRegister   = 0x20
	cmdReadPayloadWid  = 0x60
	cmdReadPayload     = 0x61
	cmdWritePayload    = 0xA0
	cmdWriteAckPayload = 0xA8 // + pipe
	cmdFlushTX         = 0xE1
	cmdFlushRX         = 0xE2
	cmdNOP             = 0xFF
)

// Register map
const (
	regConfig    = 0x00
	regEnAA      = 0x01
	regEnRxAddr  = 0x02
	regSetupAW   = 0x03
	regSetupRetr = 0x04
	regRFCh      = 0x05
	regRFSetup   = 0x06
	regStatus    = 0x07
	regObserveTX = 0x08
	regRxAddrP0  = 0x0A // P1 at 0x0B, P2-P5 hold only the low byte
	regTxAddr    = 0x10
	regRxPwP0    = 0x11 // P1-P5 follow
	regDynPD     = 0x1C
	regFeature   = 0x1D
)

// CONFIG bits
const (
	configPrimRX = 1 << 0
	configPwrUp  = 1 << 1
	configCRCO   = 1 << 2
	configEnCRC  = 1 << 3
)

// STATUS bits
const (
	statusRxPNo = 7 << 1
	statusMaxRT = 1 << 4
	statusTXDS  = 1 << 5
	statusRXDR  = 1 << 6

	rxPipeEmpty = 7
)

// RF_SETUP bits
const (
	rfDRHigh = 1 << 3
	rfDRLow  = 1 << 5
)

// FEATURE bits
const (
	featureEnDynAck = 1 << 0
	featureEnAckPay = 1 << 1
	featureEnDPL    = 1 << 2
)

const (
	addressWidth = 5
	allPipes     = 0x3F
	ackPipes     = 0x03 // pipes 0 and 1 carry ack payloads
	maxChannel   = 125
)
