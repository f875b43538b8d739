package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16(t *testing.T) {
	tests := []struct {
		data []byte
		want uint16
	}{
		{nil, 0xFFFF},
		{[]byte("123456789"), 0x6F91},
		{[]byte{5, SeqDest}, 0x9E81},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CRC16(tc.data), "%q", tc.data)
	}
}

func TestCRC16DetectsFlip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	sum := CRC16(data)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			data[i] ^= 1 << bit
			assert.NotEqual(t, sum, CRC16(data), "byte %d bit %d", i, bit)
			data[i] ^= 1 << bit
		}
	}
}
