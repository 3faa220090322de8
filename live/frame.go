// Package live decodes realtime inverter telemetry multicast by the poller
// and exposes its today counters as today.Provider.
//
// Frame v4 layout, 85 bytes packed little-endian, CRC-16/MODBUS over bytes [0:83]:
//
//	off type field
//	0   u16  magic 0xbeef
//	2   u8   version 4
//	3   u32  seq
//	7   u32  unix time, seconds
//	11  i32  pv W
//	15  i32  grid W, positive is import
//	19  i32  battery W
//	23  i32  load W
//	27  i16  temperature x10 C
//	29  u16  state of charge x10 %
//	31  f32  pv today kWh
//	35  f32  grid export today kWh
//	39  f32  grid import today kWh
//	43  f32  load today kWh
//	47  i32  seconds until 20% SoC, -1 unknown
//	51  i16  pv1 V x10, pv1 A x100, pv2 V x10, pv2 A x100
//	59  i32  grid V x10 phase A, B, C
//	71  i32  grid A x100 phase A, B, C
//	83  u16  crc
package live

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/crc"
	"github.com/temoto/pvstats/record"
)

const (
	Magic     = uint16(0xbeef)
	Version   = byte(4)
	FrameSize = 85
	crcOffset = FrameSize - 2
)

var (
	ErrFrameSize        = fmt.Errorf("live frame size mismatch")
	ErrBadMagic         = fmt.Errorf("live frame bad magic")
	ErrVersionMismatch  = fmt.Errorf("live frame version mismatch")
	ErrChecksumMismatch = fmt.Errorf("live frame checksum mismatch")
)

type Frame struct {
	Seq  uint32
	Time uint32

	PVW      int32
	GridW    int32
	BatteryW int32
	LoadW    int32

	TempX10 int16
	SoCX10  uint16

	PVToday     float32
	ExportToday float32
	ImportToday float32
	LoadToday   float32

	SecondsTo20 int32

	PV1VoltageX10  int16
	PV1CurrentX100 int16
	PV2VoltageX10  int16
	PV2CurrentX100 int16

	GridVoltageX10  [3]int32
	GridCurrentX100 [3]int32
}

func (f *Frame) Timestamp() time.Time { return time.Unix(int64(f.Time), 0) }
func (f *Frame) SoC() float32         { return float32(f.SoCX10) / 10 }
func (f *Frame) Temperature() float32 { return float32(f.TempX10) / 10 }

// PV1Watts is string power rounded to watt.
func (f *Frame) PV1Watts() int32 {
	return (int32(f.PV1VoltageX10)*int32(f.PV1CurrentX100) + 500) / 1000
}

func (f *Frame) PV2Watts() int32 {
	return (int32(f.PV2VoltageX10)*int32(f.PV2CurrentX100) + 500) / 1000
}

// Energy maps today counters. Live frame has no tariff split, all import goes to T1.
func (f *Frame) Energy() record.Energy {
	return record.Energy{
		Gen:      f.PVToday,
		Load:     f.LoadToday,
		ImportT1: f.ImportToday,
		Export:   f.ExportToday,
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("(seq=%d ts=%d pv=%dW grid=%dW batt=%dW load=%dW soc=%.1f%%)",
		f.Seq, f.Time, f.PVW, f.GridW, f.BatteryW, f.LoadW, f.SoC())
}

func (f *Frame) Marshal() []byte {
	b := make([]byte, FrameSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:], Magic)
	b[2] = Version
	le.PutUint32(b[3:], f.Seq)
	le.PutUint32(b[7:], f.Time)
	le.PutUint32(b[11:], uint32(f.PVW))
	le.PutUint32(b[15:], uint32(f.GridW))
	le.PutUint32(b[19:], uint32(f.BatteryW))
	le.PutUint32(b[23:], uint32(f.LoadW))
	le.PutUint16(b[27:], uint16(f.TempX10))
	le.PutUint16(b[29:], f.SoCX10)
	le.PutUint32(b[31:], math.Float32bits(f.PVToday))
	le.PutUint32(b[35:], math.Float32bits(f.ExportToday))
	le.PutUint32(b[39:], math.Float32bits(f.ImportToday))
	le.PutUint32(b[43:], math.Float32bits(f.LoadToday))
	le.PutUint32(b[47:], uint32(f.SecondsTo20))
	le.PutUint16(b[51:], uint16(f.PV1VoltageX10))
	le.PutUint16(b[53:], uint16(f.PV1CurrentX100))
	le.PutUint16(b[55:], uint16(f.PV2VoltageX10))
	le.PutUint16(b[57:], uint16(f.PV2CurrentX100))
	for i := 0; i < 3; i++ {
		le.PutUint32(b[59+4*i:], uint32(f.GridVoltageX10[i]))
		le.PutUint32(b[71+4*i:], uint32(f.GridCurrentX100[i]))
	}
	le.PutUint16(b[crcOffset:], crc.Modbus(b[:crcOffset]))
	return b
}

func Unmarshal(b []byte) (Frame, error) {
	var f Frame
	if len(b) != FrameSize {
		return f, errors.Annotatef(ErrFrameSize, "length=%d expected=%d", len(b), FrameSize)
	}
	le := binary.LittleEndian
	if magic := le.Uint16(b[0:]); magic != Magic {
		return f, errors.Annotatef(ErrBadMagic, "magic=%04x", magic)
	}
	if b[2] != Version {
		return f, errors.Annotatef(ErrVersionMismatch, "version=%d expected=%d", b[2], Version)
	}
	if declared, actual := le.Uint16(b[crcOffset:]), crc.Modbus(b[:crcOffset]); declared != actual {
		return f, errors.Annotatef(ErrChecksumMismatch, "declared=%04x actual=%04x", declared, actual)
	}
	f.Seq = le.Uint32(b[3:])
	f.Time = le.Uint32(b[7:])
	f.PVW = int32(le.Uint32(b[11:]))
	f.GridW = int32(le.Uint32(b[15:]))
	f.BatteryW = int32(le.Uint32(b[19:]))
	f.LoadW = int32(le.Uint32(b[23:]))
	f.TempX10 = int16(le.Uint16(b[27:]))
	f.SoCX10 = le.Uint16(b[29:])
	f.PVToday = math.Float32frombits(le.Uint32(b[31:]))
	f.ExportToday = math.Float32frombits(le.Uint32(b[35:]))
	f.ImportToday = math.Float32frombits(le.Uint32(b[39:]))
	f.LoadToday = math.Float32frombits(le.Uint32(b[43:]))
	f.SecondsTo20 = int32(le.Uint32(b[47:]))
	f.PV1VoltageX10 = int16(le.Uint16(b[51:]))
	f.PV1CurrentX100 = int16(le.Uint16(b[53:]))
	f.PV2VoltageX10 = int16(le.Uint16(b[55:]))
	f.PV2CurrentX100 = int16(le.Uint16(b[57:]))
	for i := 0; i < 3; i++ {
		f.GridVoltageX10[i] = int32(le.Uint32(b[59+4*i:]))
		f.GridCurrentX100[i] = int32(le.Uint32(b[71+4*i:]))
	}
	return f, nil
}
