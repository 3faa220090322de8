package wire

import (
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/record"
)

const (
	OfferSize        = 2 /*stats port*/ + 2 /*reserved*/
	RangeRequestSize = 2 + 1 + 1 /*day filter*/ + 2 + 1 /*month filter*/ + 1 /*reserved*/
	DaySize          = 2 + 2 + 2 /*y m d*/ + record.EnergySize
	MonthSize        = 2 + 2 /*y m*/ + record.EnergySize
	AckSize          = 4
)

// PayloadSize returns expected payload length for known types.
func PayloadSize(t Type) (int, bool) {
	switch t {
	case TypeDiscover, TypeDone:
		return 0, true
	case TypeOffer:
		return OfferSize, true
	case TypeReqRange:
		return RangeRequestSize, true
	case TypeDay:
		return DaySize, true
	case TypeMonth:
		return MonthSize, true
	case TypeAck:
		return AckSize, true
	}
	return 0, false
}

func checkSize(what string, b []byte, expect int) error {
	if len(b) != expect {
		return errors.NotValidf("%s payload length=%d expected=%d", what, len(b), expect)
	}
	return nil
}

// Offer names the unicast port where source accepts range requests.
type Offer struct {
	StatsPort uint16
}

func (o Offer) MarshalBinary() ([]byte, error) {
	b := make([]byte, OfferSize)
	binary.LittleEndian.PutUint16(b[0:], o.StatsPort)
	return b, nil
}

func (o *Offer) UnmarshalBinary(b []byte) error {
	if err := checkSize("offer", b, OfferSize); err != nil {
		return err
	}
	o.StatsPort = binary.LittleEndian.Uint16(b[0:])
	if o.StatsPort == 0 {
		return errors.NotValidf("offer port=0")
	}
	return nil
}

// RangeRequest filters streamed history.
// Zero year disables filter, i.e. "from the earliest available record".
// Inside active filter, zero month or day means 1.
type RangeRequest struct {
	FromYear       uint16
	FromMonth      uint8
	FromDay        uint8
	FromMonthYear  uint16
	FromMonthMonth uint8
}

// NewRangeRequest builds request from optional starting day and month, zero values mean everything.
func NewRangeRequest(fromDay record.Date, fromMonth record.Month) RangeRequest {
	return RangeRequest{
		FromYear:       fromDay.Year,
		FromMonth:      fromDay.Month,
		FromDay:        fromDay.Day,
		FromMonthYear:  fromMonth.Year,
		FromMonthMonth: fromMonth.Month,
	}
}

func (r RangeRequest) Validate() error {
	if r.FromMonth > 12 || r.FromDay > 31 {
		return errors.NotValidf("range request day filter=%04d-%02d-%02d", r.FromYear, r.FromMonth, r.FromDay)
	}
	if r.FromMonthMonth > 12 {
		return errors.NotValidf("range request month filter=%04d-%02d", r.FromMonthYear, r.FromMonthMonth)
	}
	return nil
}

// DayFrom returns first day to stream. Zero Date means from the earliest.
func (r RangeRequest) DayFrom() record.Date {
	if r.FromYear == 0 {
		return record.Date{}
	}
	return record.Date{Year: r.FromYear, Month: atLeastOne(r.FromMonth), Day: atLeastOne(r.FromDay)}
}

// MonthFrom returns first month to stream. Zero Month means from the earliest.
func (r RangeRequest) MonthFrom() record.Month {
	if r.FromMonthYear == 0 {
		return record.Month{}
	}
	return record.Month{Year: r.FromMonthYear, Month: atLeastOne(r.FromMonthMonth)}
}

func (r RangeRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, RangeRequestSize)
	binary.LittleEndian.PutUint16(b[0:], r.FromYear)
	b[2] = r.FromMonth
	b[3] = r.FromDay
	binary.LittleEndian.PutUint16(b[4:], r.FromMonthYear)
	b[6] = r.FromMonthMonth
	return b, nil
}

func (r *RangeRequest) UnmarshalBinary(b []byte) error {
	if err := checkSize("range request", b, RangeRequestSize); err != nil {
		return err
	}
	r.FromYear = binary.LittleEndian.Uint16(b[0:])
	r.FromMonth = b[2]
	r.FromDay = b[3]
	r.FromMonthYear = binary.LittleEndian.Uint16(b[4:])
	r.FromMonthMonth = b[6]
	return nil
}

func MarshalDay(r record.DayRecord) []byte {
	b := make([]byte, DaySize)
	binary.LittleEndian.PutUint16(b[0:], r.Year)
	binary.LittleEndian.PutUint16(b[2:], uint16(r.Date.Month))
	binary.LittleEndian.PutUint16(b[4:], uint16(r.Day))
	r.Energy.Put(b[6:])
	return b
}

func UnmarshalDay(b []byte) (record.DayRecord, error) {
	var r record.DayRecord
	if err := checkSize("day", b, DaySize); err != nil {
		return r, err
	}
	month := binary.LittleEndian.Uint16(b[2:])
	day := binary.LittleEndian.Uint16(b[4:])
	if month > 12 || day > 31 {
		return r, errors.NotValidf("day payload month=%d day=%d", month, day)
	}
	r.Date = record.Date{Year: binary.LittleEndian.Uint16(b[0:]), Month: uint8(month), Day: uint8(day)}
	err := r.Energy.UnmarshalBinary(b[6:])
	return r, err
}

func MarshalMonth(r record.MonthRecord) []byte {
	b := make([]byte, MonthSize)
	binary.LittleEndian.PutUint16(b[0:], r.Month.Year)
	binary.LittleEndian.PutUint16(b[2:], uint16(r.Month.Month))
	r.Energy.Put(b[4:])
	return b
}

func UnmarshalMonth(b []byte) (record.MonthRecord, error) {
	var r record.MonthRecord
	if err := checkSize("month", b, MonthSize); err != nil {
		return r, err
	}
	month := binary.LittleEndian.Uint16(b[2:])
	if month > 12 {
		return r, errors.NotValidf("month payload month=%d", month)
	}
	r.Month = record.Month{Year: binary.LittleEndian.Uint16(b[0:]), Month: uint8(month)}
	err := r.Energy.UnmarshalBinary(b[4:])
	return r, err
}

// Ack is reserved, no flow sends or expects it yet.
type Ack struct {
	Seq uint32
}

func (a Ack) MarshalBinary() ([]byte, error) {
	b := make([]byte, AckSize)
	binary.LittleEndian.PutUint32(b, a.Seq)
	return b, nil
}

func (a *Ack) UnmarshalBinary(b []byte) error {
	if err := checkSize("ack", b, AckSize); err != nil {
		return err
	}
	a.Seq = binary.LittleEndian.Uint32(b)
	return nil
}

func atLeastOne(x uint8) uint8 {
	if x == 0 {
		return 1
	}
	return x
}
