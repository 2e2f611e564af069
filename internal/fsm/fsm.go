// Package fsm defines the connection lifecycle shared by the server and client.
package fsm

import "fmt"

type State string

type Event string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateExchanging   State = "exchanging"
	StateClosed       State = "closed"
)

const (
	EventStart    Event = "start"
	EventBusy     Event = "busy"
	EventAttach   Event = "attach"
	EventExchange Event = "exchange"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateClosed, nil
	}

	switch current {
	case StateDisconnected:
		switch event {
		case EventStart:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventBusy:
			return StateConnecting, nil
		case EventAttach:
			return StateConnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnected:
		switch event {
		case EventExchange:
			return StateExchanging, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateExchanging:
		switch event {
		case EventComplete:
			return StateClosed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
