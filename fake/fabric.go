// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory NIC fabric for testing and development.
// Provides predictable, controllable hardware behaviour behind api.Driver:
// token accounting, pin bookkeeping, priority receive lanes and a per-port
// completion FIFO. Messages are delivered synchronously at Send time; their
// completions are observed through Receive, exactly as on real hardware.

package fake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// Default per-port token budgets.
const (
	DefaultSendTokens    = 32
	DefaultReceiveTokens = 32
)

// EventHousekeeping is an event class the engine does not know about but the
// fake hardware handles itself in Unknown.
const EventHousekeeping api.EventClass = 100

// Hardware failure statuses.
var (
	ErrTargetPortClosed = errors.New("fake: send target port closed")
	ErrMemoryFault      = errors.New("fake: memory fault")
	ErrPortClosed       = errors.New("fake: port closed")
	ErrNoSuchDevice     = errors.New("fake: no such device")
)

// LockFunc pins or unpins a raw address range (see internal/memlock).
type LockFunc func(addr uintptr, n int) error

// Option configures a Fabric.
type Option func(*Fabric)

// WithTokens sets the initial token budget of every port opened afterwards.
func WithTokens(send, recv int) Option {
	return func(f *Fabric) {
		f.sendTokens = send
		f.recvTokens = recv
	}
}

// WithMemoryLock makes registration lock pages in RAM.
func WithMemoryLock(lock, unlock LockFunc) Option {
	return func(f *Fabric) {
		f.lock = lock
		f.unlock = unlock
	}
}

// Fabric connects every fake port; one mutex serialises all hardware state.
type Fabric struct {
	mu         sync.Mutex
	ports      map[api.Address]*Port
	busy       map[api.Address]bool
	sendTokens int
	recvTokens int
	lock       LockFunc
	unlock     LockFunc
}

// NewFabric creates an empty fabric.
func NewFabric(opts ...Option) *Fabric {
	f := &Fabric{
		ports:      make(map[api.Address]*Port),
		busy:       make(map[api.Address]bool),
		sendTokens: DefaultSendTokens,
		recvTokens: DefaultReceiveTokens,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// MarkBusy makes Open of node:port fail with api.ErrDeviceBusy, as if another
// process owned it.
func (f *Fabric) MarkBusy(node api.NodeID, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[api.Address{Node: node, Port: port}] = true
}

// Port returns the open port at addr, or nil.
func (f *Fabric) Port(addr api.Address) *Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[addr]
}

// Driver returns a driver whose device i is the NIC with node id nodes[i].
func (f *Fabric) Driver(nodes ...api.NodeID) *Driver {
	return &Driver{fabric: f, nodes: nodes, failOpen: make(map[int]error)}
}

// Driver implements api.Driver for one host.
type Driver struct {
	fabric   *Fabric
	nodes    []api.NodeID
	failOpen map[int]error
}

// FailOpen makes every Open on device return err.
func (d *Driver) FailOpen(device int, err error) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	d.failOpen[device] = err
}

// Open implements api.Driver.
func (d *Driver) Open(device, port int) (api.HardwarePort, error) {
	f := d.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := d.failOpen[device]; err != nil {
		return nil, err
	}
	if device < 0 || device >= len(d.nodes) {
		return nil, fmt.Errorf("%w: device %d", ErrNoSuchDevice, device)
	}
	addr := api.Address{Node: d.nodes[device], Port: port}
	if f.busy[addr] || f.ports[addr] != nil {
		return nil, fmt.Errorf("%w: %s", api.ErrDeviceBusy, addr)
	}
	p := newPort(f, addr)
	f.ports[addr] = p
	return p, nil
}
