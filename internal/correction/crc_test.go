package correction

import (
	"testing"
)

func TestCRC8(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint8
	}{
		{
			name:     "empty data",
			input:    []byte{},
			expected: 0x00,
		},
		{
			name:     "single byte",
			input:    []byte{0x01},
			expected: 0x07,
		},
		{
			name:     "multiple bytes",
			input:    []byte{0x12, 0x34, 0x56},
			expected: 0x7C,
		},
		{
			name:     "bridge write frame",
			input:    []byte{0x06, 0x02, 0xA0, 0x05}, // cmd, len, payload
			expected: 0xA1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CRC8(tt.input)
			if result != tt.expected {
				t.Errorf("CRC8() = 0x%02X, want 0x%02X", result, tt.expected)
			}
		})
	}
}

func TestCRC8_Check(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"check string", []byte("123456789")},
		{"bridge write frame", []byte{0x06, 0x02, 0xA0, 0x05}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := AppendCRC8(append([]byte(nil), tt.input...))
			if !CheckCRC8(frame) {
				t.Errorf("CheckCRC8(% X) = false", frame)
			}
			frame[0] ^= 0x01
			if CheckCRC8(frame) {
				t.Errorf("CheckCRC8() accepted a corrupted frame % X", frame)
			}
		})
	}

	if got := CRC8([]byte("123456789")); got != 0xF4 {
		t.Errorf("CRC8(\"123456789\") = 0x%02X, want 0xF4", got)
	}
	if CheckCRC8(nil) {
		t.Error("CheckCRC8(nil) = true")
	}
}

func BenchmarkCRC8(b *testing.B) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CRC8(data)
	}
}
