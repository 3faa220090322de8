// Package crc provides CRC-16 checksums used by pvstats wire formats.
// Tables are computed once at init.
package crc

import (
	"github.com/sigurn/crc16"
)

var (
	tableCCITT  = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
	tableModbus = crc16.MakeTable(crc16.CRC16_MODBUS)
)

// CCITTInit is the register value before any data, all ones.
const CCITTInit uint16 = 0xffff

// CCITTUpdate continues CRC-16/CCITT-FALSE (poly 0x1021, MSB first, no xor-out) from crc over data.
func CCITTUpdate(crc uint16, data []byte) uint16 {
	return crc16.Update(crc, data, tableCCITT)
}

// CCITT folds header first, then payload seeded with header register.
// Caller must zero checksum field in header.
func CCITT(header, payload []byte) uint16 {
	c := CCITTUpdate(CCITTInit, header)
	if len(payload) != 0 {
		c = CCITTUpdate(c, payload)
	}
	return c
}

// Modbus is CRC-16/MODBUS (poly 0x8005 reflected, init 0xffff).
func Modbus(data []byte) uint16 {
	return crc16.Checksum(data, tableModbus)
}
