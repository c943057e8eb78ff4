// Package correction holds the checksums used on the serial bridge framing.
package correction

// CRC8 polynomial x^8 + x^2 + x + 1, initial value 0, no reflection
const crc8Poly = 0x07

var crc8Table = func() (t [256]uint8) {
	for i := range t {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC8 computes the checksum of data
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// AppendCRC8 appends the checksum of data to data
func AppendCRC8(data []byte) []byte {
	return append(data, CRC8(data))
}

// CheckCRC8 reports whether the last byte of frame is the checksum of the rest
func CheckCRC8(frame []byte) bool {
	if len(frame) < 1 {
		return false
	}
	n := len(frame) - 1
	return CRC8(frame[:n]) == frame[n]
}
