package models

import "time"

// AgentRegistration is what the relay knows about one connected agent.
type AgentRegistration struct {
	UserID       string    `json:"user_id"`
	ConnID       string    `json:"conn_id"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// OutputKind tags what an OutputEvent carries.
type OutputKind string

const (
	OutputChain OutputKind = "chain"
	OutputOrder OutputKind = "order"
)

// OutputEvent is the agent's publish-pipeline unit.
type OutputEvent struct {
	Kind      OutputKind   `json:"kind"`
	RequestID string       `json:"request_id,omitempty"`
	Chain     *ChainResult `json:"chain,omitempty"`
	Order     *OrderEvent  `json:"order,omitempty"`
}

// Key partitions events on the bus.
func (e *OutputEvent) Key() string {
	switch e.Kind {
	case OutputChain:
		if e.Chain != nil && e.Chain.Snapshot != nil {
			return e.Chain.Snapshot.Ticker
		}
	case OutputOrder:
		if e.Order != nil {
			return e.Order.UserID
		}
	}
	return string(e.Kind)
}
