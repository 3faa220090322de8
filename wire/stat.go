package wire

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read frames=1 bytes=0 because bytes has not updated yet.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Recv CountSizePair
	Send CountSizePair
	Drop expvar.Int
}

func (s *Stat) RegisterRecv(size int) {
	s.Recv.Count.Add(1)
	s.Recv.Size.Add(int64(size))
}

func (s *Stat) RegisterSend(size int) {
	s.Send.Count.Add(1)
	s.Send.Size.Add(int64(size))
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"recv.count":%d,"recv.size":%d,"send.count":%d,"send.size":%d,"drop":%d}`,
		s.Recv.Count.Value(), s.Recv.Size.Value(),
		s.Send.Count.Value(), s.Send.Size.Value(),
		s.Drop.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}
