// Package monitor implements the standalone liveness server that archetypes
// register with and heartbeat to, and that failure-detector resources query.
// It is deliberately independent of any particular archetype's execution: a
// Monitor only tracks registrations and the timestamp of the last heartbeat
// per peer, and answers queries against an inactivity window.
package monitor

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/hashmap"
	"github.com/mpcal-runtime/distsys/tla"
)

// Status is the liveness verdict a Monitor returns from a Query.
type Status int

const (
	StatusUnknown Status = iota
	StatusAlive
	StatusSuspected
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspected:
		return "suspected"
	default:
		return "unknown"
	}
}

type peerRecord struct {
	lock        sync.Mutex
	lastContact time.Time
}

// Monitor is the liveness server of §4.5: archetypes Register once and
// Heartbeat periodically; failure-detector clients Query it. At most one
// Monitor should run per listen address; peer state lives only as long as
// the process does, so a restarted Monitor starts with a clean table and
// relies on archetypes re-registering lazily.
type Monitor struct {
	ListenAddr       string
	InactivityWindow time.Duration

	listener net.Listener
	server   *rpc.Server

	peerIDs *hashmap.HashMap[*peerRecord]
	lock    sync.Mutex

	group  *errgroup.Group
	cancel context.CancelFunc
}

const defaultInactivityWindow = 3 * time.Second

// NewMonitor constructs a Monitor listening on listenAddr, suspecting a peer
// once inactivityWindow has elapsed since its last register/heartbeat. A
// zero inactivityWindow selects a 3-second default.
func NewMonitor(listenAddr string, inactivityWindow time.Duration) *Monitor {
	if inactivityWindow <= 0 {
		inactivityWindow = defaultInactivityWindow
	}
	return &Monitor{
		ListenAddr:       listenAddr,
		InactivityWindow: inactivityWindow,
		peerIDs:          hashmap.New[*peerRecord](),
	}
}

func (m *Monitor) recordFor(peerID tla.Value) *peerRecord {
	m.lock.Lock()
	defer m.lock.Unlock()
	rec, ok := m.peerIDs.Get(peerID)
	if !ok {
		rec = &peerRecord{}
		m.peerIDs.Set(peerID, rec)
	}
	return rec
}

// touch records peerID as having contacted the monitor just now. Guarding
// the write with the record's own lock (rather than the Monitor-wide lock)
// keeps concurrent heartbeats from different peers from serializing, while
// still being single-writer-consistent per peer-id: two racing heartbeats
// for the same peer-id both advance lastContact forward, never backward.
func (m *Monitor) touch(peerID tla.Value) {
	rec := m.recordFor(peerID)
	rec.lock.Lock()
	now := time.Now()
	if now.After(rec.lastContact) {
		rec.lastContact = now
	}
	rec.lock.Unlock()
}

// Register begins tracking peerID. Idempotent: a peer re-registering (after
// the monitor restarts, say) simply refreshes its contact time.
func (m *Monitor) Register(peerID tla.Value) {
	m.touch(peerID)
}

// Heartbeat refreshes peerID's last-contact time, extending its window of
// presumed liveness.
func (m *Monitor) Heartbeat(peerID tla.Value) {
	m.touch(peerID)
}

// Query reports whether peerID has contacted the monitor within the last
// InactivityWindow. A peer that has never registered is StatusUnknown.
func (m *Monitor) Query(peerID tla.Value) Status {
	m.lock.Lock()
	rec, ok := m.peerIDs.Get(peerID)
	m.lock.Unlock()
	if !ok {
		return StatusUnknown
	}
	rec.lock.Lock()
	last := rec.lastContact
	rec.lock.Unlock()
	if time.Since(last) <= m.InactivityWindow {
		return StatusAlive
	}
	return StatusSuspected
}

// ListenAndServe runs the monitor's RPC accept loop until ctx is cancelled
// or an unrecoverable listen error occurs. It blocks until both the accept
// loop and the goroutine that closes the listener on cancellation have
// stopped.
func (m *Monitor) ListenAndServe(ctx context.Context) error {
	receiver := &MonitorRPCReceiver{m: m}
	m.server = rpc.NewServer()
	if err := m.server.Register(receiver); err != nil {
		return err
	}

	var err error
	m.listener, err = net.Listen("tcp", m.ListenAddr)
	if err != nil {
		return err
	}
	log.Printf("monitor: listening on %s", m.ListenAddr)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	m.group = group

	group.Go(func() error {
		<-ctx.Done()
		return m.listener.Close()
	})
	group.Go(func() error {
		for {
			conn, err := m.listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}
			go m.server.ServeConn(conn)
		}
	})

	return group.Wait()
}

// Close stops the monitor's accept loop and waits for it to exit.
func (m *Monitor) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		return m.group.Wait()
	}
	return nil
}

// MonitorRPCReceiver exposes Monitor's operations over net/rpc. Each method
// takes the peer-id as its argument and an ignorable reply, except Query
// which fills in the Status.
type MonitorRPCReceiver struct {
	m *Monitor
}

type RegisterArgs struct{ PeerID tla.Value }
type HeartbeatArgs struct{ PeerID tla.Value }
type QueryArgs struct{ PeerID tla.Value }
type QueryReply struct{ Status Status }

func (r *MonitorRPCReceiver) Register(args RegisterArgs, _ *struct{}) error {
	r.m.Register(args.PeerID)
	return nil
}

func (r *MonitorRPCReceiver) Heartbeat(args HeartbeatArgs, _ *struct{}) error {
	r.m.Heartbeat(args.PeerID)
	return nil
}

func (r *MonitorRPCReceiver) Query(args QueryArgs, reply *QueryReply) error {
	reply.Status = r.m.Query(args.PeerID)
	return nil
}

// RunUnder ties a heartbeat goroutine's lifetime to ctx's Run(): it
// registers self with the monitor, heartbeats every interval while ctx runs,
// and stops heartbeating the instant Run returns, without either component
// reaching into the other's internals.
func RunUnder(ctx *distsys.ArchetypeContext, monitorAddr string, interval time.Duration) error {
	self := ctx.IFace().Self()
	client, err := rpc.Dial("tcp", monitorAddr)
	if err != nil {
		return fmt.Errorf("monitor: could not dial %s: %w", monitorAddr, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.Printf("monitor: error closing heartbeat client: %v", cerr)
		}
	}()

	if err := client.Call("MonitorRPCReceiver.Register", RegisterArgs{PeerID: self}, &struct{}{}); err != nil {
		return fmt.Errorf("monitor: register failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := client.Call("MonitorRPCReceiver.Heartbeat", HeartbeatArgs{PeerID: self}, &struct{}{}); err != nil {
					log.Printf("monitor: heartbeat failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()

	err = ctx.Run()
	close(done)
	return err
}
