// Package telemetry packs the responder's sensor report into the variable
// layout selected by a settings record's telemetry bitmask.
package telemetry

import (
	"fmt"

	"github.com/dbehnke/rclink/internal/settings"
)

// Field identifies one telemetry channel
type Field int

// Canonical layout order
const (
	FieldBattery Field = iota
	FieldCurrent
	FieldTemperature
	FieldRPM
	FieldGPS
	FieldAlarms
	fieldCount
)

func (f Field) String() string {
	switch f {
	case FieldBattery:
		return "battery"
	case FieldCurrent:
		return "current"
	case FieldTemperature:
		return "temperature"
	case FieldRPM:
		return "rpm"
	case FieldGPS:
		return "gps"
	case FieldAlarms:
		return "alarms"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Encoded widths in bits
const (
	batteryBits     = 8 * Float2Size
	currentBits     = 8 * Float3Size
	temperatureBits = 8
	rpmBits         = 16
	gpsBits         = 3 * 8 * Float3Size
)

var fieldMask = [...]uint8{
	FieldBattery:     settings.TelemetryBattery,
	FieldCurrent:     settings.TelemetryCurrent,
	FieldTemperature: settings.TelemetryTemperature,
	FieldRPM:         settings.TelemetryRPM,
	FieldGPS:         settings.TelemetryGPS,
}

var fieldBits = [...]int{
	FieldBattery:     batteryBits,
	FieldCurrent:     currentBits,
	FieldTemperature: temperatureBits,
	FieldRPM:         rpmBits,
	FieldGPS:         gpsBits,
}

// Location places a field inside the telemetry buffer
type Location struct {
	Byte  int   // First byte
	Bit   uint8 // Bit offset inside the first byte
	Width int   // Width in bits, 0 when the field is disabled
}

// Layout is the field table derived from one telemetry bitmask
type Layout struct {
	mask   uint8
	fields [fieldCount]Location
	size   int
}

// NewLayout walks the bitmask in canonical order. Whole-byte fields start on
// the next free byte; alarm bits go into the free low bits of the last byte
// when they fit and into a new trailing byte otherwise.
func NewLayout(mask uint8) Layout {
	l := Layout{mask: mask}
	used := 0 // bits allocated so far

	for f := FieldBattery; f < FieldAlarms; f++ {
		if mask&fieldMask[f] == 0 {
			continue
		}
		start := (used + 7) / 8
		l.fields[f] = Location{Byte: start, Width: fieldBits[f]}
		used = start*8 + fieldBits[f]
	}

	if alarms := int(mask&settings.TelemetryAlarmMask) >> settings.TelemetryAlarmShift; alarms > 0 {
		if free := (8 - used%8) % 8; free >= alarms {
			l.fields[FieldAlarms] = Location{Byte: used / 8, Bit: uint8(used % 8), Width: alarms}
			used += alarms
		} else {
			start := (used + 7) / 8
			l.fields[FieldAlarms] = Location{Byte: start, Width: alarms}
			used = start*8 + alarms
		}
	}

	l.size = (used + 7) / 8
	return l
}

// Mask returns the bitmask the layout was built from
func (l Layout) Mask() uint8 { return l.mask }

// Size is the encoded telemetry length in bytes
func (l Layout) Size() int { return l.size }

// Enabled reports whether f has space in the buffer
func (l Layout) Enabled(f Field) bool {
	return f >= 0 && f < fieldCount && l.fields[f].Width > 0
}

// Location returns where f lives, or false when it is disabled
func (l Layout) Location(f Field) (Location, bool) {
	if !l.Enabled(f) {
		return Location{}, false
	}
	return l.fields[f], true
}

// AlarmCount is the number of alarm bits reserved
func (l Layout) AlarmCount() int {
	return l.fields[FieldAlarms].Width
}
