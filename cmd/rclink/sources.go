package main

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dbehnke/rclink/internal/telemetry"
)

const (
	CHANNEL_CENTER = 1500
	CHANNEL_SPAN   = 500
	SWEEP_TICKS    = 240

	THERMAL_ZONE = "/sys/class/thermal/thermal_zone0/temp"
)

// Sweep moves every channel through a sine wave, each one phase shifted,
// so a bench setup shows movement on all outputs.
func Sweep(tick int, channels []uint16) {
	for i := range channels {
		phase := 2 * math.Pi * (float64(tick%SWEEP_TICKS)/SWEEP_TICKS + float64(i)/float64(len(channels)))
		channels[i] = uint16(CHANNEL_CENTER + math.Round(CHANNEL_SPAN*math.Sin(phase)))
	}
}

// readThermal returns the temperature in whole degrees from a Linux
// thermal zone file holding millidegrees
func readThermal(path string) (int8, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	c := milli / 1000
	return int8(max(min(c, math.MaxInt8), math.MinInt8)), true
}

// HostSensors reports the host CPU temperature and raises alarm 0 above
// limit degrees
func HostSensors(path string, limit int8) func(*telemetry.Record) {
	return func(tel *telemetry.Record) {
		c, ok := readThermal(path)
		if !ok {
			return
		}
		tel.SetTemperature(c)
		tel.SetAlarm(0, c >= limit)
	}
}

// SimSensors produces a slowly draining battery and fixed position for the
// loopback responder
func SimSensors() func(*telemetry.Record) {
	tick := 0
	return func(tel *telemetry.Record) {
		tick++
		tel.SetBattery(max(12.6-float64(tick)/10000, 9.9))
		tel.SetCurrent(1.25)
		tel.SetTemperature(31)
		tel.SetRPM(int16(tick % 12000))
		tel.SetGPS(51.5007, -0.1246, 35)
	}
}
