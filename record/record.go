// Package record defines day and month energy accounting rows
// and their fixed-width binary layout shared by the store and the wire.
//
// Energy layout, 20 bytes, little-endian IEEE-754 float32:
//
//	offset size field
//	0      4    gen       PV generation, kWh
//	4      4    load      consumption, kWh
//	8      4    import_t1 grid import tariff 1, kWh
//	12     4    import_t2 grid import tariff 2, kWh
//	16     4    export    grid export, kWh
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

const EnergySize = 5 * 4

type Energy struct {
	Gen      float32 `json:"gen" yaml:"gen"`
	Load     float32 `json:"load" yaml:"load"`
	ImportT1 float32 `json:"import_t1" yaml:"import_t1"`
	ImportT2 float32 `json:"import_t2" yaml:"import_t2"`
	Export   float32 `json:"export" yaml:"export"`
}

func (e Energy) Import() float32 { return e.ImportT1 + e.ImportT2 }
func (e Energy) IsZero() bool    { return e == Energy{} }

func (e Energy) Add(other Energy) Energy {
	return Energy{
		Gen:      e.Gen + other.Gen,
		Load:     e.Load + other.Load,
		ImportT1: e.ImportT1 + other.ImportT1,
		ImportT2: e.ImportT2 + other.ImportT2,
		Export:   e.Export + other.Export,
	}
}

// Put writes exactly EnergySize bytes into b.
func (e Energy) Put(b []byte) {
	_ = b[EnergySize-1]
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(e.Gen))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(e.Load))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(e.ImportT1))
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(e.ImportT2))
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(e.Export))
}

func (e Energy) MarshalBinary() ([]byte, error) {
	b := make([]byte, EnergySize)
	e.Put(b)
	return b, nil
}

func (e *Energy) UnmarshalBinary(b []byte) error {
	if len(b) != EnergySize {
		return errors.NotValidf("energy length=%d expected=%d", len(b), EnergySize)
	}
	e.Gen = math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))
	e.Load = math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
	e.ImportT1 = math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))
	e.ImportT2 = math.Float32frombits(binary.LittleEndian.Uint32(b[12:]))
	e.Export = math.Float32frombits(binary.LittleEndian.Uint32(b[16:]))
	return nil
}

func (e Energy) String() string {
	return fmt.Sprintf("gen=%.3f load=%.3f t1=%.3f t2=%.3f exp=%.3f",
		e.Gen, e.Load, e.ImportT1, e.ImportT2, e.Export)
}

type DayRecord struct {
	Date
	Energy
}

func (r DayRecord) String() string { return r.Date.String() + " " + r.Energy.String() }

type MonthRecord struct {
	Month
	Energy
}

func (r MonthRecord) String() string { return r.Month.String() + " " + r.Energy.String() }
