package session

// State is a step of the session state machine.
type State int

const (
	AwaitCredentials State = iota
	Authenticating
	Rejected
	Accepted
	AwaitImage
	Processing
	SendResult
	Closed
)

var stateNames = [...]string{
	AwaitCredentials: "await_credentials",
	Authenticating:   "authenticating",
	Rejected:         "rejected",
	Accepted:         "accepted",
	AwaitImage:       "await_image",
	Processing:       "processing",
	SendResult:       "send_result",
	Closed:           "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
