package telemetry

import "encoding/binary"

// Record is a telemetry buffer together with the layout that describes it.
// Accessors for disabled fields are no-ops and read back as zero.
type Record struct {
	layout Layout
	buf    []byte
}

// NewRecord allocates a zeroed record for the bitmask
func NewRecord(mask uint8) *Record {
	r := &Record{}
	r.Reset(mask)
	return r
}

// Reset recomputes the layout and resizes the buffer, clearing all values
func (r *Record) Reset(mask uint8) {
	r.layout = NewLayout(mask)
	if cap(r.buf) >= r.layout.Size() {
		r.buf = r.buf[:r.layout.Size()]
		clear(r.buf)
	} else {
		r.buf = make([]byte, r.layout.Size())
	}
}

func (r *Record) Layout() Layout { return r.layout }
func (r *Record) Size() int      { return len(r.buf) }

// Bytes exposes the encoded buffer
func (r *Record) Bytes() []byte { return r.buf }

// Load copies a received report into the record
func (r *Record) Load(b []byte) int {
	return copy(r.buf, b)
}

// Enabled reports whether the governing settings carry field f
func (r *Record) Enabled(f Field) bool {
	return r.layout.Enabled(f)
}

// field returns the bytes backing a whole-byte field
func (r *Record) field(f Field) []byte {
	loc, ok := r.layout.Location(f)
	if !ok {
		return nil
	}
	end := loc.Byte + loc.Width/8
	if end > len(r.buf) {
		return nil
	}
	return r.buf[loc.Byte:end]
}

// SetBattery stores the battery voltage as a small float
func (r *Record) SetBattery(volts float64) {
	if b := r.field(FieldBattery); b != nil {
		PutFloat2(b, volts)
	}
}

func (r *Record) Battery() float64 {
	if b := r.field(FieldBattery); b != nil {
		return Float2(b)
	}
	return 0
}

func (r *Record) SetCurrent(amps float64) {
	if b := r.field(FieldCurrent); b != nil {
		PutFloat3(b, amps)
	}
}

func (r *Record) Current() float64 {
	if b := r.field(FieldCurrent); b != nil {
		return Float3(b)
	}
	return 0
}

func (r *Record) SetTemperature(celsius int8) {
	if b := r.field(FieldTemperature); b != nil {
		b[0] = byte(celsius)
	}
}

func (r *Record) Temperature() int8 {
	if b := r.field(FieldTemperature); b != nil {
		return int8(b[0])
	}
	return 0
}

func (r *Record) SetRPM(rpm int16) {
	if b := r.field(FieldRPM); b != nil {
		binary.BigEndian.PutUint16(b, uint16(rpm))
	}
}

func (r *Record) RPM() int16 {
	if b := r.field(FieldRPM); b != nil {
		return int16(binary.BigEndian.Uint16(b))
	}
	return 0
}

// SetGPS stores three coordinates back to back
func (r *Record) SetGPS(x, y, z float64) {
	if b := r.field(FieldGPS); b != nil {
		PutFloat3(b[0:], x)
		PutFloat3(b[Float3Size:], y)
		PutFloat3(b[2*Float3Size:], z)
	}
}

func (r *Record) GPS() (x, y, z float64) {
	if b := r.field(FieldGPS); b != nil {
		return Float3(b[0:]), Float3(b[Float3Size:]), Float3(b[2*Float3Size:])
	}
	return 0, 0, 0
}

// SetAlarm sets alarm bit i. Indexes beyond the reserved count are ignored.
func (r *Record) SetAlarm(i int, on bool) {
	byteIdx, mask, ok := r.alarmBit(i)
	if !ok {
		return
	}
	if on {
		r.buf[byteIdx] |= mask
	} else {
		r.buf[byteIdx] &^= mask
	}
}

func (r *Record) Alarm(i int) bool {
	byteIdx, mask, ok := r.alarmBit(i)
	if !ok {
		return false
	}
	return r.buf[byteIdx]&mask != 0
}

func (r *Record) alarmBit(i int) (int, byte, bool) {
	loc, ok := r.layout.Location(FieldAlarms)
	if !ok || i < 0 || i >= loc.Width {
		return 0, 0, false
	}
	bit := int(loc.Bit) + i
	idx := loc.Byte + bit/8
	if idx >= len(r.buf) {
		return 0, 0, false
	}
	return idx, 1 << (bit % 8), true
}
