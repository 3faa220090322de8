// Package store keeps day and month energy aggregates in an ordered key-value database.
//
// Keys are ASCII: "D" YYYYMMDD for days, "M" YYYYMM for months, so lexical order is chronological.
// Values are record.EnergySize bytes, see record.Energy layout.
// Values of any other size are treated as absent, never as zero.
package store

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/juju/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
)

const (
	dayPrefix   = "D"
	monthPrefix = "M"
	dayKeyLen   = len(dayPrefix) + 8
	monthKeyLen = len(monthPrefix) + 6
)

var ErrClosed = fmt.Errorf("store closed")

// Reader is consistent read access, either live database or snapshot.
type Reader interface {
	GetDay(record.Date) (record.Energy, bool)
	GetMonth(record.Month) (record.Energy, bool)
	IterateDays(from record.Date, max int) ([]record.DayRecord, error)
	IterateMonths(from record.Month, max int) ([]record.MonthRecord, error)
}

// Writer is implemented by Store. Put overwrites, atomic per key.
type Writer interface {
	PutDay(record.DayRecord) error
	PutMonth(record.MonthRecord) error
}

type ReadWriter interface {
	Reader
	Writer
}

// subset of *leveldb.DB and *leveldb.Snapshot
type kv interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type Store struct {
	mu  sync.RWMutex
	db  *leveldb.DB
	r   reader
	log *log2.Log
}

// Open creates database at path if missing.
func Open(path string, log *log2.Log) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "store open path=%s", path)
	}
	log.Debugf("store open path=%s", path)
	return newStore(db, log), nil
}

// OpenMem is volatile storage for tests and dry runs.
func OpenMem(log *log2.Log) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Annotate(err, "store open memory")
	}
	return newStore(db, log), nil
}

func newStore(db *leveldb.DB, log *log2.Log) *Store {
	return &Store{
		db:  db,
		r:   reader{kv: db, log: log},
		log: log,
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.Annotate(err, "store close")
}

func (s *Store) PutDay(r record.DayRecord) error {
	if !r.Date.Valid() {
		return errors.NotValidf("store day=%s", r.Date)
	}
	return errors.Annotatef(s.put(DayKey(r.Date), r.Energy), "store put day=%s", r.Date)
}

func (s *Store) PutMonth(r record.MonthRecord) error {
	if !r.Month.Valid() {
		return errors.NotValidf("store month=%s", r.Month)
	}
	return errors.Annotatef(s.put(MonthKey(r.Month), r.Energy), "store put month=%s", r.Month)
}

func (s *Store) put(key string, e record.Energy) error {
	b, _ := e.MarshalBinary()
	return s.PutRaw(key, b)
}

// PutRaw writes value without validation. Import tools and tests only.
func (s *Store) PutRaw(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Put([]byte(key), value, nil)
}

func (s *Store) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete([]byte(key), nil)
}

func (s *Store) GetDay(d record.Date) (record.Energy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return record.Energy{}, false
	}
	return s.r.GetDay(d)
}

func (s *Store) GetMonth(m record.Month) (record.Energy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return record.Energy{}, false
	}
	return s.r.GetMonth(m)
}

func (s *Store) IterateDays(from record.Date, max int) ([]record.DayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.r.IterateDays(from, max)
}

func (s *Store) IterateMonths(from record.Month, max int) ([]record.MonthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.r.IterateMonths(from, max)
}

// View runs f against consistent snapshot. Reader must not escape f.
func (s *Store) View(f func(Reader) error) error {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return ErrClosed
	}
	snap, err := s.db.GetSnapshot()
	s.mu.RUnlock()
	if err != nil {
		return errors.Annotate(err, "store snapshot")
	}
	defer snap.Release()
	return f(reader{kv: snap, log: s.log})
}

type reader struct {
	kv  kv
	log *log2.Log
}

func (r reader) GetDay(d record.Date) (record.Energy, bool) {
	return r.get(DayKey(d))
}

func (r reader) GetMonth(m record.Month) (record.Energy, bool) {
	return r.get(MonthKey(m))
}

func (r reader) get(key string) (record.Energy, bool) {
	var e record.Energy
	b, err := r.kv.Get([]byte(key), nil)
	if err != nil {
		if err != leveldb.ErrNotFound {
			r.log.Errorf("store get key=%s err=%v", key, err)
		}
		return e, false
	}
	if err = e.UnmarshalBinary(b); err != nil {
		r.log.Debugf("store get key=%s ignore err=%v", key, err)
		return e, false
	}
	return e, true
}

func (r reader) IterateDays(from record.Date, max int) ([]record.DayRecord, error) {
	var result []record.DayRecord
	seek := ""
	if !from.IsZero() {
		seek = DayKey(from)
	}
	err := r.iterate(dayPrefix, seek, func(key, value []byte) bool {
		d, ok := ParseDayKey(string(key))
		if !ok {
			r.log.Debugf("store skip malformed key=%q", key)
			return true
		}
		var e record.Energy
		if err := e.UnmarshalBinary(value); err != nil {
			r.log.Debugf("store skip key=%s err=%v", key, err)
			return true
		}
		result = append(result, record.DayRecord{Date: d, Energy: e})
		return max <= 0 || len(result) < max
	})
	return result, errors.Annotate(err, "store iterate days")
}

func (r reader) IterateMonths(from record.Month, max int) ([]record.MonthRecord, error) {
	var result []record.MonthRecord
	seek := ""
	if !from.IsZero() {
		seek = MonthKey(from)
	}
	err := r.iterate(monthPrefix, seek, func(key, value []byte) bool {
		m, ok := ParseMonthKey(string(key))
		if !ok {
			r.log.Debugf("store skip malformed key=%q", key)
			return true
		}
		var e record.Energy
		if err := e.UnmarshalBinary(value); err != nil {
			r.log.Debugf("store skip key=%s err=%v", key, err)
			return true
		}
		result = append(result, record.MonthRecord{Month: m, Energy: e})
		return max <= 0 || len(result) < max
	})
	return result, errors.Annotate(err, "store iterate months")
}

// iterate calls f in key order until f returns false.
// Empty seek starts from first key with prefix.
func (r reader) iterate(prefix, seek string, f func(key, value []byte) bool) error {
	it := r.kv.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	var ok bool
	if seek == "" {
		ok = it.First()
	} else {
		ok = it.Seek([]byte(seek))
	}
	for ; ok; ok = it.Next() {
		if !f(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

func DayKey(d record.Date) string {
	return fmt.Sprintf("%s%04d%02d%02d", dayPrefix, d.Year, d.Month, d.Day)
}

func MonthKey(m record.Month) string {
	return fmt.Sprintf("%s%04d%02d", monthPrefix, m.Year, m.Month)
}

func ParseDayKey(key string) (record.Date, bool) {
	if len(key) != dayKeyLen || key[:len(dayPrefix)] != dayPrefix {
		return record.Date{}, false
	}
	y, ok1 := digits(key[1:5])
	m, ok2 := digits(key[5:7])
	d, ok3 := digits(key[7:9])
	date := record.NewDate(y, m, d)
	return date, ok1 && ok2 && ok3 && date.Valid()
}

func ParseMonthKey(key string) (record.Month, bool) {
	if len(key) != monthKeyLen || key[:len(monthPrefix)] != monthPrefix {
		return record.Month{}, false
	}
	y, ok1 := digits(key[1:5])
	m, ok2 := digits(key[5:7])
	month := record.NewMonth(y, m)
	return month, ok1 && ok2 && month.Valid()
}

func digits(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	x, err := strconv.Atoi(s)
	return x, err == nil
}
