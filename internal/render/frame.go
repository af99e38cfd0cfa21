package render

import "fmt"

// FrameState is the position of a frame slot in its cycle.
type FrameState int

const (
	StateIdle FrameState = iota
	StateAcquiring
	StateRecording
	StateSubmitted
	StatePresenting
)

var frameStateNames = [...]string{"idle", "acquiring", "recording", "submitted", "presenting"}

func (s FrameState) String() string {
	if s >= 0 && int(s) < len(frameStateNames) {
		return frameStateNames[s]
	}
	return fmt.Sprintf("FrameState(%d)", int(s))
}
