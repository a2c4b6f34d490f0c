package resources

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/monitor"
	"github.com/mpcal-runtime/distsys/tla"
)

const (
	defaultFailureDetectorTimeout      = 1 * time.Second
	defaultFailureDetectorPullInterval = 2 * time.Second
)

// FailureDetectorAddressMappingFn returns the address of the Monitor
// tracking the archetype with the given index.
type FailureDetectorAddressMappingFn func(tla.Value) string

// FailureDetector is the mapped resource of §4.4.5: fd[i] reads as a Bool
// indicating whether peer i is suspected dead.
type FailureDetector struct {
	*distsys.IncMap
}

// NewFailureDetector produces a collection of per-peer failure-detector
// sub-resources, each polling a Monitor via addressMappingFn.
func NewFailureDetector(addressMappingFn FailureDetectorAddressMappingFn, opts ...FailureDetectorOption) *FailureDetector {
	return &FailureDetector{
		distsys.NewIncMap(func(index tla.Value) distsys.ArchetypeResource {
			monitorAddr := addressMappingFn(index)
			return NewSingleFailureDetector(index, monitorAddr, opts...)
		}),
	}
}

// SingleFailureDetector is the fd[i] sub-resource: it polls a Monitor for
// peerID's liveness every pullInterval and caches the answer so ReadValue
// never blocks beyond one round-trip.
//
// Suspicion policy, per §4.4.2: a peer that answered within the monitor's
// inactivity window reads as FALSE (alive); otherwise TRUE (suspected). The
// verdict can flip in either direction as evidence accumulates.
type SingleFailureDetector struct {
	distsys.ArchetypeResourceLeafMixin

	peerID      tla.Value
	monitorAddr string

	timeout      time.Duration
	pullInterval time.Duration

	client *rpc.Client
	reDial bool
	ticker *time.Ticker

	lock   sync.RWMutex
	status monitor.Status
	polled bool

	execLock sync.Mutex
	started  bool
	closing  bool

	done chan struct{}
}

var _ distsys.ArchetypeResource = &SingleFailureDetector{}

type FailureDetectorOption func(fd *SingleFailureDetector)

func WithFailureDetectorTimeout(t time.Duration) FailureDetectorOption {
	return func(fd *SingleFailureDetector) { fd.timeout = t }
}

func WithFailureDetectorPullInterval(t time.Duration) FailureDetectorOption {
	return func(fd *SingleFailureDetector) { fd.pullInterval = t }
}

// NewSingleFailureDetector constructs and starts a failure detector polling
// monitorAddr for peerID's liveness.
func NewSingleFailureDetector(peerID tla.Value, monitorAddr string, opts ...FailureDetectorOption) *SingleFailureDetector {
	fd := &SingleFailureDetector{
		peerID:       peerID,
		monitorAddr:  monitorAddr,
		timeout:      defaultFailureDetectorTimeout,
		pullInterval: defaultFailureDetectorPullInterval,
		status:       monitor.StatusUnknown,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fd)
	}
	go fd.mainLoop()
	return fd
}

func (res *SingleFailureDetector) getStatus() monitor.Status {
	res.lock.RLock()
	defer res.lock.RUnlock()
	return res.status
}

// polledOnce reports whether mainLoop has completed at least one round
// trip to the monitor, successful or not. Before that, status is just its
// zero value and ReadValue must not trust it either way.
func (res *SingleFailureDetector) polledOnce() bool {
	res.lock.RLock()
	defer res.lock.RUnlock()
	return res.polled
}

func (res *SingleFailureDetector) setStatus(status monitor.Status) {
	res.lock.Lock()
	res.status = status
	res.polled = true
	res.lock.Unlock()
}

func (res *SingleFailureDetector) ensureClient() error {
	if res.client == nil || res.reDial {
		conn, err := net.DialTimeout("tcp", res.monitorAddr, res.timeout)
		if err != nil {
			return err
		}
		res.client = rpc.NewClient(conn)
		res.reDial = false
	}
	return nil
}

func (res *SingleFailureDetector) mainLoop() {
	res.execLock.Lock()
	if res.closing {
		res.execLock.Unlock()
		return
	}
	res.started = true
	res.execLock.Unlock()

	res.ticker = time.NewTicker(res.pullInterval)
loop:
	for range res.ticker.C {
		select {
		case <-res.done:
			break loop
		default:
		}

		oldStatus := res.getStatus()

		if err := res.ensureClient(); err != nil {
			res.setStatus(monitor.StatusSuspected)
			if oldStatus != monitor.StatusSuspected {
				log.Printf("fd: peer %v dial error, marking suspected: %v", res.peerID, err)
			}
			continue
		}

		var reply monitor.QueryReply
		call := res.client.Go("MonitorRPCReceiver.Query", monitor.QueryArgs{PeerID: res.peerID}, &reply, nil)
		var err error
		timedOut := false
		select {
		case <-call.Done:
			err = call.Error
		case <-time.After(res.timeout):
			timedOut = true
		}

		switch {
		case err != nil:
			res.setStatus(monitor.StatusSuspected)
			if oldStatus != monitor.StatusSuspected {
				log.Printf("fd: peer %v query error, marking suspected: %v", res.peerID, err)
			}
			if err == rpc.ErrShutdown {
				res.reDial = true
			}
		case timedOut:
			res.setStatus(monitor.StatusSuspected)
			if oldStatus != monitor.StatusSuspected {
				log.Printf("fd: peer %v query timed out, marking suspected", res.peerID)
			}
		default:
			res.setStatus(reply.Status)
			if oldStatus != reply.Status {
				log.Printf("fd: peer %v status now %v", res.peerID, reply.Status)
			}
		}
	}
}

func (res *SingleFailureDetector) Abort() chan struct{}  { return nil }
func (res *SingleFailureDetector) PreCommit() chan error { return nil }
func (res *SingleFailureDetector) Commit() chan struct{} { return nil }

func (res *SingleFailureDetector) ReadValue() (tla.Value, error) {
	// Before the first round trip completes, status is just its zero value;
	// wait for a real answer rather than report on it either way. Once
	// polled, a peer the monitor has never heard from is indistinguishable
	// from one that's gone: both read as suspected.
	if !res.polledOnce() {
		time.Sleep(res.pullInterval)
		return tla.Value{}, distsys.ErrCriticalSectionAborted
	}
	if res.getStatus() == monitor.StatusAlive {
		return tla.False, nil
	}
	return tla.True, nil
}

func (res *SingleFailureDetector) WriteValue(value tla.Value) error {
	panic(fmt.Errorf("attempted to write %v to a failure-detector resource", value))
}

func (res *SingleFailureDetector) Close() error {
	res.execLock.Lock()
	if res.closing {
		res.execLock.Unlock()
		return nil
	}
	res.closing = true
	if res.started {
		res.done <- struct{}{}
	}
	res.execLock.Unlock()

	if res.ticker != nil {
		res.ticker.Stop()
	}
	var err error
	if res.client != nil {
		err = res.client.Close()
	}
	return err
}
