package broker

import "sync/atomic"

// mailbox is a bounded per-request inbox. Delivery never blocks the dispatcher.
type mailbox struct {
	ch       chan Event
	overflow atomic.Bool
}

func newMailbox(size int) *mailbox {
	if size < 1 {
		size = 1
	}
	return &mailbox{ch: make(chan Event, size)}
}

func (m *mailbox) deliver(ev Event) bool {
	select {
	case m.ch <- ev:
		return true
	default:
		m.overflow.Store(true)
		return false
	}
}

// inbox fans the callbacks of one id out to its owner and any watchers.
type inbox struct {
	owned bool
	subs  []*mailbox
}

// remove detaches mb and reports whether the inbox is now empty.
func (in *inbox) remove(mb *mailbox, owner bool) bool {
	for i, m := range in.subs {
		if m == mb {
			in.subs = append(in.subs[:i], in.subs[i+1:]...)
			if owner {
				in.owned = false
			}
			break
		}
	}
	return len(in.subs) == 0
}
