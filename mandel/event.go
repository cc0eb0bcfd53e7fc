package mandel

import "fmt"

// Event is sent on the events channel passed to Run.
type Event interface {
	fmt.Stringer
	GetRank() int
}

// State is the phase a rank is in.
type State int

const (
	Computing State = iota
	Collecting
	Synchronised
	Rendering
	Done
)

func (s State) String() string {
	switch s {
	case Computing:
		return "Computing"
	case Collecting:
		return "Collecting"
	case Synchronised:
		return "Synchronised"
	case Rendering:
		return "Rendering"
	case Done:
		return "Done"
	default:
		return "Incorrect State"
	}
}

// StateChange is sent every time a rank changes phase.
type StateChange struct {
	Rank     int
	NewState State
}

func (e StateChange) String() string { return e.NewState.String() }

func (e StateChange) GetRank() int { return e.Rank }

// RowsAssembled reports collection progress at the root.
type RowsAssembled struct {
	Rank          int
	Rows          int
	RowsPerSecond int
}

func (e RowsAssembled) String() string {
	return fmt.Sprintf("%d rows assembled (%d rows/sec)", e.Rows, e.RowsPerSecond)
}

func (e RowsAssembled) GetRank() int { return e.Rank }

// ImageOutputComplete is sent by the root once the output has been written.
type ImageOutputComplete struct {
	Rank     int
	Filename string
}

func (e ImageOutputComplete) String() string {
	return fmt.Sprintf("Image output %v complete", e.Filename)
}

func (e ImageOutputComplete) GetRank() int { return e.Rank }
