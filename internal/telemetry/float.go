package telemetry

import "math"

// Compact float encodings. Both store a signed mantissa and a power of two
// exponent so that value = mantissa / 2^exponent.

const (
	Float3Size = 3 // int16 mantissa (big-endian) + uint8 exponent
	Float2Size = 2 // 12-bit mantissa + 4-bit even exponent

	float3MaxExp = 255
	float2MaxExp = 30
	float2MaxMan = 2047
)

// encodeFloat searches exponents from 0 upward in steps of step and returns
// the first one at which the value is exactly representable. When the
// mantissa would leave [lo, hi] first, the last exponent that still fit is
// used. Values too large for exponent 0 saturate.
func encodeFloat(v, lo, hi float64, step, maxExp int) (int, int) {
	if math.IsNaN(v) {
		return 0, 0
	}

	n := math.Round(v)
	if n > hi {
		return int(hi), 0
	}
	if n < lo {
		return int(lo), 0
	}

	e := 0
	for e+step <= maxExp && n != math.Ldexp(v, e) {
		next := math.Round(math.Ldexp(v, e+step))
		if next > hi || next < lo {
			break
		}
		e += step
		n = next
	}

	return int(n), e
}

// PutFloat3 encodes v into b[0:3]
func PutFloat3(b []byte, v float64) {
	_ = b[2]
	n, e := encodeFloat(v, math.MinInt16, math.MaxInt16, 1, float3MaxExp)
	m := uint16(int16(n))
	b[0] = byte(m >> 8)
	b[1] = byte(m)
	b[2] = byte(e)
}

// Float3 decodes b[0:3]
func Float3(b []byte) float64 {
	_ = b[2]
	m := int16(uint16(b[0])<<8 | uint16(b[1]))
	return math.Ldexp(float64(m), -int(b[2]))
}

// PutFloat2 encodes v into b[0:2] using even exponents 0-30
func PutFloat2(b []byte, v float64) {
	_ = b[1]
	n, e := encodeFloat(v, -float2MaxMan, float2MaxMan, 2, float2MaxExp)
	b[0] = byte((n>>8)&0x0F) | byte((e/2)<<4)
	b[1] = byte(n & 0xFF)
}

// Float2 decodes b[0:2]
func Float2(b []byte) float64 {
	_ = b[1]
	n := uint16(b[0])<<8 | uint16(b[1])

	m := int16(n & 0x0FFF)
	if m&0x0800 != 0 {
		m |= -4096
	}
	e := int((n>>12)&0x0F) * 2

	return math.Ldexp(float64(m), -e)
}
