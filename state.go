package visage

// State is a stage of a pipeline run.
type State int

// A run moves through the states in declaration order. Failed is reachable
// from Detecting only.
const (
	Idle State = iota
	Detecting
	Estimating
	Annotating
	RemovingBackground
	Done
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	Detecting:          "detecting",
	Estimating:         "estimating",
	Annotating:         "annotating",
	RemovingBackground: "removing_background",
	Done:               "done",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Note records an optional output that was skipped or degraded during a run.
type Note struct {
	Stage   State  `json:"stage"`
	Message string `json:"message"`
}

func (n Note) String() string {
	return n.Stage.String() + ": " + n.Message
}
