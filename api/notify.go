// File: api/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Notification contract between the engine and its counterpart layer.

package api

// Reason tells the counterpart why an endpoint id was signalled. One id is
// shared by local completions and remote flow-control packets; the reason
// keeps them apart.
type Reason int

const (
	// SignalRequestSent: output send-intent packet left the NIC (Requested -> Ready).
	SignalRequestSent Reason = iota + 1
	// SignalCreditGranted: peer input granted credit, output may SendBuffer.
	SignalCreditGranted
	// SignalSendComplete: output data send finished (Sending -> Idle).
	SignalSendComplete
	// SignalSendIntent: peer output announced data, input should PostBuffer.
	SignalSendIntent
	// SignalGrantSent: input credit-grant packet left the NIC.
	SignalGrantSent
	// SignalDataReceived: posted buffer was filled; Signal.Length is valid.
	SignalDataReceived
)

func (r Reason) String() string {
	switch r {
	case SignalRequestSent:
		return "request_sent"
	case SignalCreditGranted:
		return "credit_granted"
	case SignalSendComplete:
		return "send_complete"
	case SignalSendIntent:
		return "send_intent"
	case SignalGrantSent:
		return "grant_sent"
	case SignalDataReceived:
		return "data_received"
	default:
		return "unknown"
	}
}

// Signal accompanies every notification.
type Signal struct {
	Reason Reason
	// Length is the received byte count for SignalDataReceived.
	Length int
	// Err carries a hardware completion failure, nil on success.
	Err error
}

// Notifier is the wait/notify authority owned by the counterpart layer.
// Notify is invoked from the goroutine running the dispatcher and must not
// block for long. It may call endpoint operations (SendRequest, SendBuffer,
// PostBuffer, endpoint Close) but not Pump, CloseDevice or Runtime.Close:
// those wait for the pass that is delivering the notification.
type Notifier interface {
	Notify(id int, sig Signal)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(id int, sig Signal)

// Notify implements Notifier.
func (f NotifierFunc) Notify(id int, sig Signal) { f(id, sig) }

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(int, Signal) {}
