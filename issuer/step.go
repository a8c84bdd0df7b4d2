package issuer

import "fmt"

// Step is the phase of a session with an issuer.
type Step int

const (
	StepStart Step = iota
	StepWaitingForServerVersion
	StepWaitingForChannelInitiate
	StepConnectionOpen
	StepWaitingForPaymentAck
	StepPaymentDone
	StepConnectionClosed
)

var stepNames = map[Step]string{
	StepStart:                     "START",
	StepWaitingForServerVersion:   "WAITING_FOR_SERVER_VERSION",
	StepWaitingForChannelInitiate: "WAITING_FOR_CHANNEL_INITIATE",
	StepConnectionOpen:            "CONNECTION_OPEN",
	StepWaitingForPaymentAck:      "WAITING_FOR_PAYMENT_ACK",
	StepPaymentDone:               "PAYMENT_DONE",
	StepConnectionClosed:          "CONNECTION_CLOSED",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	for step, name := range stepNames {
		if name == string(text) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", text)
}

var transitions = map[Step][]Step{
	StepStart:                     {StepWaitingForServerVersion},
	StepWaitingForServerVersion:   {StepWaitingForChannelInitiate},
	StepWaitingForChannelInitiate: {StepConnectionOpen},
	StepConnectionOpen:            {StepWaitingForPaymentAck},
	StepWaitingForPaymentAck:      {StepPaymentDone, StepConnectionOpen},
	StepPaymentDone:               {StepWaitingForPaymentAck},
}

// CanTransition reports whether a session may move from one step to another.
// Every step but CONNECTION_CLOSED may move to CONNECTION_CLOSED, which
// itself never moves again.
func CanTransition(from, to Step) bool {
	if from == StepConnectionClosed {
		return false
	}
	if to == StepConnectionClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// incrementStatus returns the status an increment started in step s fails
// with, or StatusOK if an increment may start.
func incrementStatus(s Step) Status {
	switch s {
	case StepConnectionOpen, StepPaymentDone:
		return StatusOK
	case StepConnectionClosed:
		return StatusChannelClosed
	}
	return StatusChannelNotReady
}
