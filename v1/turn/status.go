package turn

import "fmt"

// Decision is the answer to a Poll.
type Decision int

const (
	// Proceed means the caller holds the turn.
	Proceed Decision = iota
	// Wait means the caller is queued at Status.Position.
	Wait
	// InUse means another participant holds the turn and no queue is kept.
	InUse
	// Evicted means the caller's previous turn or place was reclaimed. It is
	// reported once; the next poll starts over.
	Evicted
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Wait:
		return "wait"
	case InUse:
		return "in_use"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Status is the result of a Poll. Position is 0-based and only meaningful
// for Wait.
type Status struct {
	Decision Decision
	Position int
}

func (s Status) String() string {
	if s.Decision == Wait {
		return fmt.Sprintf("wait(%d)", s.Position)
	}
	return s.Decision.String()
}
