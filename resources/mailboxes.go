// Package resources implements the runtime's built-in ArchetypeResources:
// TCP-backed mailboxes, failure detectors, and the input/output channel
// bridge, each grounded on the wire-protocol patterns of the original
// distsys resource implementations.
package resources

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/hashmap"
	"github.com/mpcal-runtime/distsys/tla"
)

// wire message tags for the mailbox protocol. Each frame on the wire is
// length-prefixed (4-byte big-endian length, covering everything after the
// length itself); the first byte of the payload is one of these tags.
const (
	frameBegin byte = iota
	frameValue
	framePreCommit
	frameCommit
	frameAck
)

type mailboxesConfig struct {
	receiveChanSize int
	dialTimeout     time.Duration
	writeTimeout    time.Duration
	readTimeout     time.Duration
}

var defaultMailboxesConfig = mailboxesConfig{
	receiveChanSize: 100,
	dialTimeout:     10 * time.Second,
	writeTimeout:    10 * time.Second,
	readTimeout:     50 * time.Millisecond,
}

// MailboxesOption configures a Mailboxes collection's timeouts and buffering.
type MailboxesOption func(c *mailboxesConfig)

func WithMailboxesReceiveChanSize(n int) MailboxesOption {
	return func(c *mailboxesConfig) { c.receiveChanSize = n }
}

func WithMailboxesDialTimeout(d time.Duration) MailboxesOption {
	return func(c *mailboxesConfig) { c.dialTimeout = d }
}

func WithMailboxesWriteTimeout(d time.Duration) MailboxesOption {
	return func(c *mailboxesConfig) { c.writeTimeout = d }
}

func WithMailboxesReadTimeout(d time.Duration) MailboxesOption {
	return func(c *mailboxesConfig) { c.readTimeout = d }
}

// MailboxKind distinguishes a mailbox this process owns (Local, read-only,
// backed by a listener) from one addressed on a peer (Remote, write-only,
// backed by an outbound dial).
type MailboxKind int

const (
	MailboxesLocal MailboxKind = iota
	MailboxesRemote
)

// MailboxesAddressMappingFn tells a Mailboxes collection, for a given peer
// index, whether that peer's mailbox is Local (we own it) or Remote (we
// dial it), and the TCP address involved either way.
type MailboxesAddressMappingFn func(index tla.Value) (MailboxKind, string)

// Mailboxes is the lazily-populated collection of per-peer mailbox
// resources addressed as mailboxes[i] in MPCal source.
type Mailboxes struct {
	*distsys.IncMap
}

// NewMailboxes constructs the collection, indexing each peer to a local or
// remote mailbox per addressMappingFn. self identifies the owning archetype
// to its peers: every remote mailbox attaches it to its begin frame, so the
// receiving end can key its per-sender sequence-number dedup table.
//
// Each mailbox behaves as a reliable, order-preserving, at-most-once-per-value
// FIFO channel: values sent by WriteValue before one Commit are delivered,
// duplicate-free, to the corresponding Local mailbox's ReadValue calls, in
// the order they were written. Retried commits (after a dropped connection)
// resend the same application-level sequence number, which the receiver
// uses to recognize and discard ones it already delivered.
func NewMailboxes(self tla.Value, addressMappingFn MailboxesAddressMappingFn, opts ...MailboxesOption) *Mailboxes {
	return &Mailboxes{
		distsys.NewIncMap(func(index tla.Value) distsys.ArchetypeResource {
			kind, addr := addressMappingFn(index)
			switch kind {
			case MailboxesLocal:
				return newMailboxesLocal(addr, opts...)
			case MailboxesRemote:
				return newMailboxesRemote(addr, self, opts...)
			default:
				panic(fmt.Errorf("invalid mailbox kind %d for address %s", kind, addr))
			}
		}),
	}
}

func writeFrame(w io.Writer, tag byte, body func(w io.Writer) error) error {
	var buf frameBuffer
	buf.b = append(buf.b, tag)
	if body != nil {
		if err := body(&buf); err != nil {
			return err
		}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf.b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.b)
	return err
}

// frameBuffer is a minimal io.Writer accumulating a frame's payload bytes.
type frameBuffer struct{ b []byte }

func (f *frameBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func readFrame(r io.Reader) (tag byte, body []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body = make([]byte, n)
	if _, err = io.ReadFull(r, body); err != nil {
		return
	}
	if len(body) == 0 {
		err = fmt.Errorf("empty mailbox frame")
		return
	}
	tag, body = body[0], body[1:]
	return
}

func putUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func getUint64(b []byte) (uint64, []byte) {
	return binary.BigEndian.Uint64(b[:8]), b[8:]
}

type pendingMsg struct {
	sender tla.Value
	seq    uint64
	value  tla.Value
}

type mailboxesLocal struct {
	distsys.ArchetypeResourceLeafMixin

	listenAddr string
	listener   net.Listener
	msgChannel chan []pendingMsg

	readBacklog     []pendingMsg
	readsInProgress []pendingMsg

	lastSeq *hashmap.HashMap[uint64]

	done chan struct{}

	lock    sync.RWMutex
	closing bool

	config mailboxesConfig
}

var _ distsys.ArchetypeResource = &mailboxesLocal{}

func newMailboxesLocal(listenAddr string, opts ...MailboxesOption) distsys.ArchetypeResource {
	config := defaultMailboxesConfig
	for _, opt := range opts {
		opt(&config)
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		panic(fmt.Errorf("could not listen on %s: %w", listenAddr, err))
	}
	log.Printf("mailboxes: listening on %s", listenAddr)
	res := &mailboxesLocal{
		listenAddr: listenAddr,
		listener:   listener,
		msgChannel: make(chan []pendingMsg, config.receiveChanSize),
		lastSeq:    hashmap.New[uint64](),
		done:       make(chan struct{}),
		config:     config,
	}
	go res.listen()
	return res
}

func (res *mailboxesLocal) listen() {
	for {
		conn, err := res.listener.Accept()
		if err != nil {
			select {
			case <-res.done:
				return
			default:
				log.Printf("mailboxes: accept error on %s: %v", res.listenAddr, err)
				return
			}
		}
		go res.handleConn(conn)
	}
}

// handleConn drives one sender's connection: begin resets the per-exchange
// buffer, value frames append to it, commit flushes it (after checking the
// attached sequence number against the last one accepted from this sender,
// so a resent commit after a reconnect doesn't redeliver values).
func (res *mailboxesLocal) handleConn(conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("mailboxes: error closing connection: %v", err)
		}
	}()

	var buffered []tla.Value
	var sender tla.Value
	hasBegun := false
	for {
		tag, body, err := readFrame(conn)
		if err != nil {
			select {
			case <-res.done:
			default:
				if err != io.EOF {
					log.Printf("mailboxes: connection error, dropping: %v", err)
				}
			}
			return
		}

		switch tag {
		case frameBegin:
			sender, err = tla.Decode(sliceReader(body))
			if err != nil {
				log.Printf("mailboxes: bad begin frame: %v", err)
				return
			}
			buffered = nil
			hasBegun = true
		case frameValue:
			if !hasBegun {
				log.Printf("mailboxes: value frame before begin, dropping connection")
				return
			}
			value, err := tla.Decode(sliceReader(body))
			if err != nil {
				log.Printf("mailboxes: bad value frame: %v", err)
				return
			}
			buffered = append(buffered, value)
		case framePreCommit:
			if err := writeFrame(conn, frameAck, nil); err != nil {
				log.Printf("mailboxes: error acking pre-commit: %v", err)
				return
			}
		case frameCommit:
			if !hasBegun {
				log.Printf("mailboxes: commit frame before begin, dropping connection")
				return
			}
			seq, _ := getUint64(body)
			res.lock.RLock()
			closing := res.closing
			res.lock.RUnlock()
			if !closing {
				last, ok := res.lastSeq.Get(sender)
				if !ok || seq > last {
					res.lastSeq.Set(sender, seq)
					if len(buffered) > 0 {
						msgs := make([]pendingMsg, len(buffered))
						for i, v := range buffered {
							msgs[i] = pendingMsg{sender: sender, seq: seq, value: v}
						}
						res.msgChannel <- msgs
					}
				}
			}
			if err := writeFrame(conn, frameAck, nil); err != nil {
				log.Printf("mailboxes: error acking commit: %v", err)
				return
			}
			buffered = nil
			hasBegun = false
		}
	}
}

func sliceReader(b []byte) io.Reader { return &sliceReaderImpl{b: b} }

type sliceReaderImpl struct{ b []byte }

func (r *sliceReaderImpl) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func (res *mailboxesLocal) Abort() chan struct{} {
	res.readBacklog = append(res.readsInProgress, res.readBacklog...)
	res.readsInProgress = nil
	return nil
}

func (res *mailboxesLocal) PreCommit() chan error { return nil }

func (res *mailboxesLocal) Commit() chan struct{} {
	res.readsInProgress = nil
	return nil
}

func (res *mailboxesLocal) ReadValue() (tla.Value, error) {
	if len(res.readBacklog) > 0 {
		msg := res.readBacklog[0]
		res.readBacklog = res.readBacklog[1:]
		res.readsInProgress = append(res.readsInProgress, msg)
		return msg.value, nil
	}

	select {
	case batch := <-res.msgChannel:
		msg := batch[0]
		res.readBacklog = append(res.readBacklog, batch[1:]...)
		res.readsInProgress = append(res.readsInProgress, msg)
		return msg.value, nil
	case <-time.After(res.config.readTimeout):
		return tla.Value{}, distsys.ErrCriticalSectionAborted
	}
}

func (res *mailboxesLocal) WriteValue(value tla.Value) error {
	panic(fmt.Errorf("attempted to write %v to a local (read-only) mailbox", value))
}

func (res *mailboxesLocal) Close() error {
	res.lock.Lock()
	res.closing = true
	res.lock.Unlock()
	close(res.done)
	var err error
	if res.listener != nil {
		err = res.listener.Close()
	}
	return err
}

type mailboxesRemote struct {
	distsys.ArchetypeResourceLeafMixin

	self     tla.Value
	dialAddr string

	conn net.Conn

	inCriticalSection bool
	nextSeq           uint64
	resendBuffer      [][]byte

	config mailboxesConfig
}

var _ distsys.ArchetypeResource = &mailboxesRemote{}

func newMailboxesRemote(dialAddr string, self tla.Value, opts ...MailboxesOption) distsys.ArchetypeResource {
	config := defaultMailboxesConfig
	for _, opt := range opts {
		opt(&config)
	}
	return &mailboxesRemote{dialAddr: dialAddr, self: self, config: config, nextSeq: 1}
}

func (res *mailboxesRemote) ensureConnection() error {
	if res.conn == nil {
		conn, err := net.DialTimeout("tcp", res.dialAddr, res.config.dialTimeout)
		if err != nil {
			log.Printf("mailboxes: failed to dial %s, aborting: %v", res.dialAddr, err)
			return distsys.ErrCriticalSectionAborted
		}
		res.conn = conn
	}
	return nil
}

func (res *mailboxesRemote) timeoutConn() io.ReadWriter {
	return makeReadWriterConnTimeout(res.conn, res.config.writeTimeout)
}

func (res *mailboxesRemote) Abort() chan struct{} {
	res.inCriticalSection = false
	res.resendBuffer = nil
	return nil
}

func (res *mailboxesRemote) PreCommit() chan error {
	if !res.inCriticalSection {
		return nil
	}
	ch := make(chan error, 1)
	go func() {
		w := res.timeoutConn()
		if err := writeFrame(w, framePreCommit, nil); err != nil {
			res.dropConn()
			ch <- distsys.ErrCriticalSectionAborted
			return
		}
		if _, _, err := readFrame(w); err != nil {
			res.dropConn()
			ch <- distsys.ErrCriticalSectionAborted
			return
		}
		ch <- nil
	}()
	return ch
}

func (res *mailboxesRemote) dropConn() {
	if res.conn != nil {
		if err := res.conn.Close(); err != nil {
			log.Printf("mailboxes: error closing connection: %v", err)
		}
		res.conn = nil
	}
}

func (res *mailboxesRemote) resend() error {
	if err := res.ensureConnection(); err != nil {
		return err
	}
	w := res.timeoutConn()
	for _, frame := range res.resendBuffer {
		if _, err := w.Write(frame); err != nil {
			return &distsys.IOError{Op: "mailbox resend", Err: err}
		}
	}
	return nil
}

func (res *mailboxesRemote) Commit() chan struct{} {
	if !res.inCriticalSection {
		return nil
	}
	seq := res.nextSeq
	res.nextSeq++
	ch := make(chan struct{}, 1)
	go func() {
		for {
			if res.conn == nil {
				if err := res.resend(); err != nil {
					time.Sleep(res.config.dialTimeout / 4)
					continue
				}
			}
			w := res.timeoutConn()
			err := writeFrame(w, frameCommit, func(w io.Writer) error { return putUint64(w, seq) })
			if err == nil {
				_, _, err = readFrame(w)
			}
			if err != nil {
				log.Printf("mailboxes: network error during commit, retrying: %v", err)
				res.dropConn()
				continue
			}
			res.inCriticalSection = false
			res.resendBuffer = nil
			ch <- struct{}{}
			return
		}
	}()
	return ch
}

func (res *mailboxesRemote) ReadValue() (tla.Value, error) {
	panic(fmt.Errorf("attempted to read from a remote (write-only) mailbox"))
}

func (res *mailboxesRemote) WriteValue(value tla.Value) error {
	if err := res.ensureConnection(); err != nil {
		return err
	}
	w := res.timeoutConn()

	record := func(tag byte, body func(io.Writer) error) ([]byte, error) {
		var buf frameBuffer
		if err := writeFrame(&buf, tag, body); err != nil {
			return nil, err
		}
		return buf.b, nil
	}

	handleError := func(err error) error {
		log.Printf("mailboxes: network error during write, aborting: %v", err)
		res.dropConn()
		return distsys.ErrCriticalSectionAborted
	}

	if !res.inCriticalSection {
		res.inCriticalSection = true
		frame, err := record(frameBegin, func(w io.Writer) error { return tla.Encode(w, res.self) })
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return handleError(err)
		}
		res.resendBuffer = append(res.resendBuffer, frame)
	}

	frame, err := record(frameValue, func(w io.Writer) error { return tla.Encode(w, value) })
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return handleError(err)
	}
	res.resendBuffer = append(res.resendBuffer, frame)
	return nil
}

func (res *mailboxesRemote) Close() error {
	if res.conn != nil {
		return res.conn.Close()
	}
	return nil
}
