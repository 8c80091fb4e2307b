package broker

import "sync/atomic"

// IDSpace splits the handshake's starting sequence into two disjoint counters:
// orders take start, start+2, start+4, ... and data requests take start+1, start+3, ...
// so an id never names both an order and a data request within one session.
type IDSpace struct {
	base  int64
	order atomic.Int64
	data  atomic.Int64
}

func NewIDSpace(start int64) *IDSpace {
	if start < 1 {
		start = 1
	}
	return &IDSpace{base: start}
}

func (s *IDSpace) NextOrderID() int64 {
	n := s.order.Add(1) - 1
	return s.base + 2*n
}

func (s *IDSpace) NextDataID() int64 {
	n := s.data.Add(1) - 1
	return s.base + 1 + 2*n
}

func (s *IDSpace) IsOrderID(id int64) bool {
	return id >= s.base && (id-s.base)%2 == 0
}

// IsDataID reports whether id belongs to this session's data request half.
func (s *IDSpace) IsDataID(id int64) bool {
	return id >= s.base && (id-s.base)%2 == 1
}

func (s *IDSpace) Base() int64 {
	return s.base
}
