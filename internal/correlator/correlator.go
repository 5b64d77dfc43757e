// Package correlator demultiplexes inbound ICMP traffic to in-flight probes.
//
// A Correlator owns one ICMP socket per address family for the lifetime of
// the process. Probes register a Key before sending and wait on the
// returned Waiter; the reader goroutines parse every inbound message, derive
// the key of the probe it refers to and wake exactly that waiter. Messages
// with no registered key, including replies arriving after their probe gave
// up, are dropped.
package correlator

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/logging"
	"github.com/anstrom/netprobe/internal/metrics"
)

const maxMessageSize = 1 << 16

// PacketConn is the subset of *icmp.PacketConn the correlator uses.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	LocalAddr() net.Addr
	SetReadDeadline(t time.Time) error
	Close() error
}

// ListenFunc opens an ICMP socket. network is one of "ip4:icmp",
// "ip6:ipv6-icmp", "udp4" or "udp6".
type ListenFunc func(network, address string) (PacketConn, error)

// ListenICMP opens a socket with golang.org/x/net/icmp.
func ListenICMP(network, address string) (PacketConn, error) {
	c, err := icmp.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configure a Correlator.
type Options struct {
	// Privileged selects raw sockets, which also receive error notices
	// for TCP and UDP probes. Unprivileged datagram sockets only see
	// traffic for their own echo identifier.
	Privileged bool
	ListenV4   string
	ListenV6   string
	Listen     ListenFunc
	Metrics    metrics.Recorder
	Logger     *logging.Logger
}

type familyConn struct {
	family Family
	conn   PacketConn
	echoID uint16
}

// Correlator routes ICMP messages to registered waiters.
type Correlator struct {
	opts   Options
	logger *logging.Logger

	mu      sync.Mutex
	pending map[Key]*Waiter
	closed  bool

	conns [2]*familyConn
	seq   atomic.Uint32

	openOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Correlator. No socket is opened until Open.
func New(opts Options) *Correlator {
	if opts.Listen == nil {
		opts.Listen = ListenICMP
	}
	if opts.ListenV4 == "" {
		opts.ListenV4 = "0.0.0.0"
	}
	if opts.ListenV6 == "" {
		opts.ListenV6 = "::"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	c := &Correlator{
		opts:    opts,
		logger:  opts.Logger.WithComponent("correlator"),
		pending: make(map[Key]*Waiter),
		done:    make(chan struct{}),
	}
	c.seq.Store(uint32(os.Getpid()))
	return c
}

// Open acquires the ICMP sockets and starts the readers. A family whose
// socket cannot be opened is left unavailable; Open fails only when
// neither family could be opened.
func (c *Correlator) Open() error {
	var err error
	opened := false
	c.openOnce.Do(func() {
		opened = true
		err = c.open()
	})
	if !opened {
		return fmt.Errorf("correlator already opened")
	}
	return err
}

func (c *Correlator) open() error {
	var errs []error

	for _, family := range []Family{FamilyV4, FamilyV6} {
		network, address := c.endpoint(family)
		conn, err := c.opts.Listen(network, address)
		if err != nil {
			c.logger.Warn("ICMP socket unavailable",
				"family", family.String(),
				"network", network,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", network, err))
			continue
		}

		fc := &familyConn{
			family: family,
			conn:   conn,
			echoID: c.echoIDFor(conn),
		}
		c.conns[family] = fc

		c.wg.Add(1)
		go c.readLoop(fc)

		c.logger.Debug("ICMP socket opened",
			"family", family.String(),
			"network", network,
			"echo_id", fc.echoID)
	}

	if c.conns[FamilyV4] == nil && c.conns[FamilyV6] == nil {
		return errors.ErrSocketCreation("open icmp sockets", stderrors.Join(errs...))
	}
	return nil
}

func (c *Correlator) endpoint(family Family) (network, address string) {
	switch {
	case family == FamilyV4 && c.opts.Privileged:
		return "ip4:icmp", c.opts.ListenV4
	case family == FamilyV4:
		return "udp4", c.opts.ListenV4
	case c.opts.Privileged:
		return "ip6:ipv6-icmp", c.opts.ListenV6
	default:
		return "udp6", c.opts.ListenV6
	}
}

// echoIDFor picks the echo identifier. Datagram ICMP sockets have the
// kernel rewrite the identifier to the socket's local port.
func (c *Correlator) echoIDFor(conn PacketConn) uint16 {
	if !c.opts.Privileged {
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return uint16(addr.Port)
		}
	}
	return uint16(os.Getpid() & 0xffff)
}

// Available reports whether the family's socket is open.
func (c *Correlator) Available(family Family) bool {
	return c.conns[family] != nil
}

// Privileged reports whether raw sockets are in use.
func (c *Correlator) Privileged() bool {
	return c.opts.Privileged
}

// EchoID returns the identifier to place in echo requests for family.
func (c *Correlator) EchoID(family Family) (uint16, bool) {
	fc := c.conns[family]
	if fc == nil {
		return 0, false
	}
	return fc.echoID, true
}

// NextSeq hands out echo sequence numbers.
func (c *Correlator) NextSeq() uint16 {
	return uint16(c.seq.Add(1))
}

// WriteTo sends a marshalled ICMP message to dst on the matching family socket.
func (c *Correlator) WriteTo(b []byte, dst netip.Addr) error {
	dst = dst.Unmap()
	fc := c.conns[FamilyOf(dst)]
	if fc == nil {
		return errors.ErrSocketCreation("write "+FamilyOf(dst).String(),
			fmt.Errorf("no %s socket open", FamilyOf(dst)))
	}
	_, err := fc.conn.WriteTo(b, netAddrFor(dst, c.opts.Privileged))
	return err
}

// Register reserves key and returns the waiter that will receive the
// matching message. Registering a key that is already pending fails with
// CodeKeyInUse.
func (c *Correlator) Register(key Key) (*Waiter, error) {
	key.Remote = keyAddr(key.Remote)
	w := &Waiter{
		c:   c,
		key: key,
		ch:  make(chan Notification, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.NewScanError(errors.CodeSocketCreation, "correlator is closed")
	}
	if _, exists := c.pending[key]; exists {
		c.mu.Unlock()
		return nil, errors.NewScanError(errors.CodeKeyInUse, "correlation key already registered").
			WithContext("key", key.String())
	}
	c.pending[key] = w
	n := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetCorrelatorPending(n)
	return w, nil
}

// Pending returns the number of registered keys.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) deregister(w *Waiter) {
	c.mu.Lock()
	if c.pending[w.key] == w {
		delete(c.pending, w.key)
	}
	n := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetCorrelatorPending(n)
}

// deliver wakes the waiter registered for key, trying the wildcard form
// after the exact one. It reports whether a waiter was found.
func (c *Correlator) deliver(key Key, note Notification) bool {
	c.mu.Lock()
	w, ok := c.pending[key]
	if !ok {
		if wk, isWild := key.wildcard(); isWild {
			key = wk
			w, ok = c.pending[key]
		}
	}
	if ok {
		delete(c.pending, key)
	}
	n := len(c.pending)
	c.mu.Unlock()

	if !ok {
		return false
	}
	// The entry was removed under the lock, so this is the only send.
	w.ch <- note
	c.opts.Metrics.SetCorrelatorPending(n)
	return true
}

func (c *Correlator) readLoop(fc *familyConn) {
	defer c.wg.Done()

	buf := make([]byte, maxMessageSize)
	for {
		n, peer, err := fc.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				continue
			}
			c.logger.Debug("ICMP read failed", "family", fc.family.String(), "error", err)
			continue
		}
		c.dispatch(fc.family, buf[:n], peer)
	}
}

func (c *Correlator) dispatch(family Family, b []byte, peer net.Addr) {
	key, note, err := parseMessage(family, b, peer)
	switch {
	case stderrors.Is(err, errIgnored):
		c.opts.Metrics.RecordICMPMessage(family.String(), metrics.OutcomeDiscarded)
		return
	case err != nil:
		c.opts.Metrics.RecordICMPMessage(family.String(), metrics.OutcomeMalformed)
		c.logger.Debug("Malformed ICMP message", "family", family.String(), "from", peer, "error", err)
		return
	}

	if !c.deliver(key, note) {
		c.opts.Metrics.RecordICMPMessage(family.String(), metrics.OutcomeDiscarded)
		return
	}
	c.opts.Metrics.RecordICMPMessage(family.String(), metrics.OutcomeMatched)
	c.logger.Debug("ICMP message routed", "key", key.String(), "kind", note.Kind.String())
}

// Close stops the readers and releases the sockets. Pending waiters are
// left to expire on their own deadlines.
func (c *Correlator) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		for _, fc := range c.conns {
			if fc == nil {
				continue
			}
			if err := fc.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.wg.Wait()
	})
	return stderrors.Join(errs...)
}

// Waiter receives at most one Notification for its key.
type Waiter struct {
	c   *Correlator
	key Key
	ch  chan Notification
}

// Key returns the registered key.
func (w *Waiter) Key() Key {
	return w.key
}

// C is ready once a matching message has been routed.
func (w *Waiter) C() <-chan Notification {
	return w.ch
}

// Cancel deregisters the key. It is safe to call after delivery and more
// than once.
func (w *Waiter) Cancel() {
	w.c.deregister(w)
}
