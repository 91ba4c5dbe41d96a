// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake hardware port.

package fake

import (
	"fmt"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/memreg"
)

type addrRange struct {
	addr uintptr
	n    int
}

func (r addrRange) contains(addr uintptr, n int) bool {
	return addr >= r.addr && addr+uintptr(n) <= r.addr+uintptr(r.n)
}

type recvSlot struct {
	buf []byte
	tag int
}

type pendingMsg struct {
	data   []byte
	sender api.Address
}

// Port implements api.HardwarePort on top of the fabric.
type Port struct {
	fabric     *Fabric
	addr       api.Address
	sendTokens int
	recvTokens int

	pins map[addrRange]int
	dma  map[uintptr]int

	slots   [2][]recvSlot   // indexed by api.Priority
	pending [2][]pendingMsg // messages waiting for a receive buffer
	events  *queue.Queue    // api.Event FIFO

	failPin    error
	pinCalls   int
	unpinCalls int
	closed     bool
}

func newPort(f *Fabric, addr api.Address) *Port {
	return &Port{
		fabric:     f,
		addr:       addr,
		sendTokens: f.sendTokens,
		recvTokens: f.recvTokens,
		pins:       make(map[addrRange]int),
		dma:        make(map[uintptr]int),
		events:     queue.New(),
	}
}

// NodeID implements api.HardwarePort.
func (p *Port) NodeID() (api.NodeID, error) { return p.addr.Node, nil }

// PortID implements api.HardwarePort.
func (p *Port) PortID() int { return p.addr.Port }

// Address returns node:port of this port.
func (p *Port) Address() api.Address { return p.addr }

// SendTokens implements api.HardwarePort.
func (p *Port) SendTokens() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.sendTokens
}

// ReceiveTokens implements api.HardwarePort.
func (p *Port) ReceiveTokens() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.recvTokens
}

// SetTokens overrides the current token counters.
func (p *Port) SetTokens(send, recv int) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	p.sendTokens = send
	p.recvTokens = recv
}

// FailRegistration makes subsequent RegisterMemory calls fail with err; nil
// restores normal behaviour.
func (p *Port) FailRegistration(err error) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	p.failPin = err
}

// RegisterMemory implements api.HardwarePort.
func (p *Port) RegisterMemory(addr uintptr, n int) error {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.failPin != nil {
		return p.failPin
	}
	if lock := p.fabric.lock; lock != nil {
		if err := lock(addr, n); err != nil {
			return err
		}
	}
	p.pins[addrRange{addr, n}]++
	p.pinCalls++
	return nil
}

// DeregisterMemory implements api.HardwarePort.
func (p *Port) DeregisterMemory(addr uintptr, n int) error {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	key := addrRange{addr, n}
	if p.pins[key] == 0 {
		return fmt.Errorf("fake: %#x+%d is not registered", addr, n)
	}
	if unlock := p.fabric.unlock; unlock != nil {
		if err := unlock(addr, n); err != nil {
			return err
		}
	}
	if p.pins[key]--; p.pins[key] == 0 {
		delete(p.pins, key)
	}
	p.unpinCalls++
	return nil
}

// DMAAlloc implements api.HardwarePort.
func (p *Port) DMAAlloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fake: dma alloc of %d bytes", n)
	}
	b := make([]byte, n)
	p.fabric.mu.Lock()
	p.dma[memreg.AddrOf(b)] = n
	p.fabric.mu.Unlock()
	return b, nil
}

// DMAFree implements api.HardwarePort.
func (p *Port) DMAFree(b []byte) {
	p.fabric.mu.Lock()
	delete(p.dma, memreg.AddrOf(b))
	p.fabric.mu.Unlock()
}

// ProvideReceiveBuffer implements api.HardwarePort.
func (p *Port) ProvideReceiveBuffer(buf []byte, prio api.Priority, tag int) error {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.recvTokens < 1 {
		return api.ErrTokenExhausted
	}
	p.recvTokens--
	slot := recvSlot{buf: buf, tag: tag}
	if q := p.pending[prio]; len(q) > 0 {
		msg := q[0]
		p.pending[prio] = q[1:]
		p.fill(slot, prio, msg)
		return nil
	}
	p.slots[prio] = append(p.slots[prio], slot)
	return nil
}

// Send implements api.HardwarePort.
func (p *Port) Send(msg []byte, prio api.Priority, dst api.Address, cookie any) error {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.sendTokens < 1 {
		return api.ErrTokenExhausted
	}
	p.sendTokens--

	var status error
	switch target := p.fabric.ports[dst]; {
	case !p.dmaReachable(msg):
		status = ErrMemoryFault
	case target == nil || target.closed:
		status = ErrTargetPortClosed
	default:
		data := make([]byte, len(msg))
		copy(data, msg)
		target.deliver(prio, pendingMsg{data: data, sender: p.addr})
	}
	p.events.Add(api.Event{Class: api.EventSendComplete, Cookie: cookie, Status: status})
	return nil
}

// Receive implements api.HardwarePort. Draining a completion returns the
// token its operation consumed.
func (p *Port) Receive() api.Event {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	if p.events.Length() == 0 {
		return api.Event{Class: api.EventNone}
	}
	ev := p.events.Remove().(api.Event)
	switch ev.Class {
	case api.EventSendComplete:
		p.sendTokens++
	case api.EventHighRecv, api.EventRecv:
		p.recvTokens++
	}
	return ev
}

// Unknown implements api.HardwarePort. Only EventHousekeeping is handled.
func (p *Port) Unknown(ev api.Event) error {
	if ev.Class == EventHousekeeping {
		return nil
	}
	return fmt.Errorf("fake: unknown event %s", ev.Class)
}

// Inject appends ev to the completion queue.
func (p *Port) Inject(ev api.Event) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	p.events.Add(ev)
}

// PendingEvents returns the number of undrained completions.
func (p *Port) PendingEvents() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.events.Length()
}

// PinnedRanges returns the number of distinct registered ranges.
func (p *Port) PinnedRanges() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return len(p.pins)
}

// IsPinned reports whether [addr, addr+n) lies in a registered range.
func (p *Port) IsPinned(addr uintptr, n int) bool {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	for r := range p.pins {
		if r.contains(addr, n) {
			return true
		}
	}
	return false
}

// PinCalls returns the number of successful RegisterMemory calls.
func (p *Port) PinCalls() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.pinCalls
}

// UnpinCalls returns the number of successful DeregisterMemory calls.
func (p *Port) UnpinCalls() int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.unpinCalls
}

// ProvidedBuffers returns the receive buffers currently held for prio.
func (p *Port) ProvidedBuffers(prio api.Priority) int {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return len(p.slots[prio])
}

// Close implements api.HardwarePort.
func (p *Port) Close() error {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	p.closed = true
	delete(p.fabric.ports, p.addr)
	return nil
}

// deliver hands msg to the first receive buffer of prio, or parks it.
func (p *Port) deliver(prio api.Priority, msg pendingMsg) {
	if q := p.slots[prio]; len(q) > 0 {
		slot := q[0]
		p.slots[prio] = q[1:]
		p.fill(slot, prio, msg)
		return
	}
	p.pending[prio] = append(p.pending[prio], msg)
}

func (p *Port) fill(slot recvSlot, prio api.Priority, msg pendingMsg) {
	n := copy(slot.buf, msg.data)
	class, message := api.EventRecv, slot.buf[:n]
	if prio == api.PriorityHigh {
		// fast receive: the event carries its own copy, so one control
		// buffer may be provided several times
		class, message = api.EventHighRecv, msg.data[:n]
	}
	p.events.Add(api.Event{
		Class:   class,
		Buffer:  slot.buf,
		Message: message,
		Length:  n,
		Sender:  msg.sender,
		Tag:     slot.tag,
	})
}

// dmaReachable reports whether msg lives in registered or DMA memory.
func (p *Port) dmaReachable(msg []byte) bool {
	if len(msg) == 0 {
		return true
	}
	addr, n := memreg.AddrOf(msg), len(msg)
	if size, ok := p.dma[addr]; ok && n <= size {
		return true
	}
	for r := range p.pins {
		if r.contains(addr, n) {
			return true
		}
	}
	return false
}
