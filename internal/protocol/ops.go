package protocol

// Op names an operation the relay can forward to an agent.
type Op string

const (
	OpPositions       Op = "positions"
	OpPlaceOrder      Op = "place_order"
	OpCancelOrder     Op = "cancel_order"
	OpFetchChain      Op = "fetch_chain"
	OpQuote           Op = "quote"
	OpUnderlyingPrice Op = "underlying_price"
)

// Policy decides which agent may serve an op.
type Policy int

const (
	// OwnerScoped ops are served only by the caller's own agent.
	OwnerScoped Policy = iota
	// BestEffort ops prefer the caller's agent and fall back to any connected agent.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "owner_scoped"
}

// Policy returns OwnerScoped for every op not explicitly read-only.
func (o Op) Policy() Policy {
	switch o {
	case OpFetchChain, OpQuote, OpUnderlyingPrice:
		return BestEffort
	default:
		return OwnerScoped
	}
}

func (o Op) Valid() bool {
	switch o {
	case OpPositions, OpPlaceOrder, OpCancelOrder, OpFetchChain, OpQuote, OpUnderlyingPrice:
		return true
	}
	return false
}

// Mutating ops change broker state; an agent finishes them even after the relay stops waiting.
func (o Op) Mutating() bool {
	return o == OpPlaceOrder || o == OpCancelOrder
}
