package crc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference bitwise implementation, MSB first.
func ccittReference(c uint16, data []byte) uint16 {
	for _, b := range data {
		c ^= uint16(b) << 8
		for k := 0; k < 8; k++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
	}
	return c
}

func modbusReference(data []byte) uint16 {
	c := uint16(0xffff)
	for _, b := range data {
		c ^= uint16(b)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = c>>1 ^ 0xa001
			} else {
				c >>= 1
			}
		}
	}
	return c
}

func TestCheckValues(t *testing.T) {
	t.Parallel()

	check := []byte("123456789")
	assert.Equal(t, uint16(0x29b1), CCITT(check, nil))
	assert.Equal(t, uint16(0x4b37), Modbus(check))
}

func TestCCITTSplit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header  string
		payload string
	}{
		{"", ""},
		{"\xfe\xca\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00", ""},
		{"\xfe\xca\x01\x04\x07\x00\x00\x00\x1a\x00\x00\x00", "\xea\x07\x0a\x00\x13\x00"},
		{"head", "payload with more bytes than header"},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%x/%x", c.header, c.payload), func(t *testing.T) {
			joined := []byte(c.header + c.payload)
			expect := ccittReference(0xffff, joined)
			assert.Equal(t, expect, CCITT([]byte(c.header), []byte(c.payload)))
			assert.Equal(t, expect, CCITTUpdate(CCITTUpdate(CCITTInit, []byte(c.header)), []byte(c.payload)))
		})
	}
}

func TestModbusReference(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "\x00", "\xbe\xef\x04", "live frame body"} {
		assert.Equal(t, modbusReference([]byte(s)), Modbus([]byte(s)), "input=%x", s)
	}
}
