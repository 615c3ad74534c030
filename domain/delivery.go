package domain

// DeliveryState tracks a locally sent message until the gateway settles it.
type DeliveryState int

const (
	// Received marks messages that came from history or a push, not from a local send.
	Received DeliveryState = iota
	Pending
	Confirmed
	Failed
)

func (d DeliveryState) String() string {
	switch d {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "received"
	}
}

// CanBecome reports whether a local copy may move from d to next.
// Confirmed is terminal, and a failed message only goes back to pending through a retry.
func (d DeliveryState) CanBecome(next DeliveryState) bool {
	switch d {
	case Pending:
		return next == Confirmed || next == Failed
	case Failed:
		return next == Pending || next == Confirmed
	default:
		return false
	}
}
