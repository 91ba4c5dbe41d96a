// File: api/hardware.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hardware abstraction for asynchronous DMA-capable NICs. The engine only
// talks to a NIC through these contracts; a software fabric lives in package
// fake and real bindings can be supplied by the caller.

package api

import "fmt"

// NodeID identifies a NIC on the fabric.
type NodeID uint32

// Priority selects the hardware send/receive lane.
type Priority int

const (
	// PriorityLow carries bulk data transfers.
	PriorityLow Priority = iota
	// PriorityHigh carries small control packets.
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Address names a remote hardware port.
type Address struct {
	Node NodeID
	Port int
}

func (a Address) String() string { return fmt.Sprintf("%d:%d", a.Node, a.Port) }

// EventClass enumerates completion events reported by a hardware port.
type EventClass int

const (
	// EventNone means the port had nothing pending.
	EventNone EventClass = iota
	// EventHighRecv reports arrival of a small high-priority message.
	EventHighRecv
	// EventRecv reports arrival of a large low-priority message.
	EventRecv
	// EventSendComplete reports the local completion of a send.
	EventSendComplete
)

func (c EventClass) String() string {
	switch c {
	case EventNone:
		return "none"
	case EventHighRecv:
		return "high_recv"
	case EventRecv:
		return "recv"
	case EventSendComplete:
		return "send_complete"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Event is one completion drained from a hardware port.
type Event struct {
	Class EventClass

	// Buffer is the receive buffer the hardware filled (receive classes).
	Buffer []byte
	// Message is the received payload inside Buffer.
	Message []byte
	// Length is the received byte count.
	Length int
	// Sender identifies the origin of a received message.
	Sender Address
	// Tag is the tag the receive buffer was provided with.
	Tag int

	// Cookie is the value passed to Send (send completion).
	Cookie any
	// Status is the hardware completion status; nil on success.
	Status error
}

// Driver opens hardware ports on numbered devices.
type Driver interface {
	// Open opens port on device. A port already in use yields an error
	// matching ErrDeviceBusy.
	Open(device, port int) (HardwarePort, error)
}

// HardwarePort is one opened NIC port. Methods are called with the owning
// engine port lock held, except Receive which is only called by the
// dispatcher.
type HardwarePort interface {
	// NodeID returns the local node id of the NIC.
	NodeID() (NodeID, error)
	// PortID returns the opened port number.
	PortID() int

	// SendTokens and ReceiveTokens report the available hardware credits.
	SendTokens() int
	ReceiveTokens() int

	// RegisterMemory pins [addr, addr+n) for DMA.
	RegisterMemory(addr uintptr, n int) error
	// DeregisterMemory releases a pin created by RegisterMemory.
	DeregisterMemory(addr uintptr, n int) error
	// DMAAlloc returns pre-registered memory of n bytes.
	DMAAlloc(n int) ([]byte, error)
	// DMAFree releases memory from DMAAlloc.
	DMAFree(b []byte)

	// ProvideReceiveBuffer hands buf to the hardware; consumes one receive token.
	ProvideReceiveBuffer(buf []byte, prio Priority, tag int) error
	// Send transmits msg to dst; consumes one send token. Completion is
	// reported later as EventSendComplete carrying cookie.
	Send(msg []byte, prio Priority, dst Address, cookie any) error

	// Receive polls the next event without blocking.
	Receive() Event
	// Unknown handles an event class the engine does not recognise.
	Unknown(ev Event) error

	Close() error
}
