package ldapwire

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	// StateCreated is the state after dial, before the handshake finished.
	StateCreated ConnState = iota
	// StateAvailable means the connection is idle in the pool.
	StateAvailable
	// StateCheckedOut means one logical operation owns the send path.
	StateCheckedOut
	// StateDefunct means the connection suffered an unrecoverable I/O or
	// decode error and must not be reused.
	StateDefunct
	// StateClosed means the connection was shut down.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAvailable:
		return "available"
	case StateCheckedOut:
		return "checked-out"
	case StateDefunct:
		return "defunct"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn owns one physical channel to a directory server. Outbound requests
// are serialized under a send mutex; a dedicated background reader
// demultiplexes inbound messages by message ID and delivers them to the
// matching pending request. The reader is the receive path's only owner
// for the connection's lifetime.
type Conn struct {
	address  string
	netConn  net.Conn
	logger   *slog.Logger
	registry *requestRegistry

	sendMu       sync.Mutex
	writeTimeout time.Duration

	state      atomic.Int32
	readerDone chan struct{}
	closeOnce  sync.Once

	createdAt time.Time
	lastUsed  atomic.Int64 // unix nanos
}

// Dial opens a connection to the configured server, starts its receive
// loop, and performs the bind handshake when bind credentials are set.
func Dial(ctx context.Context, config *Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, config.Address, err)
	}
	if config.TLSConfig != nil {
		tlsConn := tls.Client(netConn, config.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			netConn.Close()
			return nil, fmt.Errorf("%w: %s: tls handshake: %v", ErrConnect, config.Address, err)
		}
		netConn = tlsConn
	}

	conn := newConn(netConn, config.Address, config.WriteTimeout, config.logger())
	if config.BindDN != "" {
		if err := conn.bind(ctx, config.BindDN, config.BindPassword, config.OperationTimeout); err != nil {
			conn.Close()
			return nil, err
		}
	}
	conn.setState(StateAvailable)
	conn.logger.Debug("connection_established",
		slog.String("server", config.Address))
	return conn, nil
}

// newConn wraps an established channel and starts the receive loop. The
// connection starts in the Created state.
func newConn(netConn net.Conn, address string, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	c := &Conn{
		address:      address,
		netConn:      netConn,
		logger:       logger,
		registry:     newRequestRegistry(),
		writeTimeout: writeTimeout,
		readerDone:   make(chan struct{}),
		createdAt:    time.Now(),
	}
	c.lastUsed.Store(time.Now().UnixNano())
	go c.readLoop()
	return c
}

// Address returns the server address the connection was dialed to.
func (c *Conn) Address() string { return c.address }

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// transition moves from one state to another, reporting whether the swap
// happened.
func (c *Conn) transition(from, to ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// IsUsable reports whether the connection can serve a new request: the
// handshake completed and the receive loop has not died. Used as the
// pool's lightweight liveness probe on checkout; defunct detection itself
// is event-driven through the receive loop.
func (c *Conn) IsUsable() bool {
	switch c.State() {
	case StateDefunct, StateClosed:
		return false
	}
	select {
	case <-c.readerDone:
		return false
	default:
		return true
	}
}

// send encodes and writes one request message and registers a pending
// handle for its responses. Safe to call concurrently; writes are
// serialized under the send mutex.
func (c *Conn) send(op *ber.Element, controls []Control) (*pendingRequest, error) {
	switch c.State() {
	case StateDefunct:
		return nil, ErrConnectionDefunct
	case StateClosed:
		return nil, ErrConnectionClosed
	}

	pr := c.registry.register()
	msg := &Message{MessageID: pr.messageID, ProtocolOp: op, Controls: controls}
	data := msg.Encode()

	c.sendMu.Lock()
	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.netConn.Write(data)
	c.sendMu.Unlock()

	if err != nil {
		c.registry.remove(pr.messageID)
		c.fatal(fmt.Errorf("%w: write: %v", ErrConnectionDefunct, err))
		return nil, ErrConnectionDefunct
	}
	c.lastUsed.Store(time.Now().UnixNano())
	return pr, nil
}

// awaitResult blocks until the terminal result for pr arrives, the
// request is cancelled or fails, the context is done, or the timeout
// elapses. Intermediate messages (search entries and references) are
// passed to onIntermediate in wire order.
//
// A context cancellation abandons the request and returns ErrCancelled; a
// timeout abandons the request and returns ErrTimeout, which the
// classification table treats as connection-fatal.
func (c *Conn) awaitResult(ctx context.Context, pr *pendingRequest, timeout time.Duration, onIntermediate func(*Message) error) (*Result, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case msg := <-pr.msgs:
			if isTerminalOp(msg.ProtocolOp.Tag) {
				result, err := decodeResult(msg.ProtocolOp)
				if err != nil {
					c.fatal(err)
					return nil, err
				}
				result.Controls = msg.Controls
				return result, nil
			}
			if onIntermediate != nil {
				if err := onIntermediate(msg); err != nil {
					c.Abandon(pr.messageID)
					return nil, err
				}
			}
		case <-pr.done:
			return nil, pr.err
		case <-ctx.Done():
			c.Abandon(pr.messageID)
			return nil, ErrCancelled
		case <-timeoutCh:
			c.Abandon(pr.messageID)
			return nil, ErrTimeout
		}
	}
}

// Abandon cancels the outstanding request with the given message ID. The
// handle is removed before anything else, so a late-arriving response is
// a no-op and no result is ever delivered to the waiter. The abandon
// message itself is one-way and best-effort: it never waits for server
// acknowledgment, and a write failure is ignored.
func (c *Conn) Abandon(messageID int32) {
	pr, outstanding := c.registry.remove(messageID)
	if !outstanding {
		return
	}
	pr.fail(ErrCancelled)

	if !c.IsUsable() {
		return
	}
	op := ber.NewInteger(ApplicationAbandonRequest, int64(messageID))
	msg := &Message{MessageID: c.registry.nextMessageID(), ProtocolOp: op}
	data := msg.Encode()

	c.sendMu.Lock()
	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.netConn.Write(data)
	c.sendMu.Unlock()
	if err != nil {
		c.logger.Debug("abandon_write_failed",
			slog.Int("message_id", int(messageID)),
			slog.String("error", err.Error()))
	}
}

// readLoop is the connection's receive path: it decodes one message at a
// time from the channel and resolves the matching pending request. A
// decode failure is fatal; a desynchronized stream cannot be realigned
// safely, so the loop resolves all outstanding requests with a
// connection-fatal error, marks the connection defunct, and stops.
func (c *Conn) readLoop() {
	defer close(c.readerDone)
	reader := bufio.NewReader(c.netConn)
	for {
		el, err := ber.ReadElement(reader)
		if err != nil {
			c.fatal(fmt.Errorf("%w: %w", ErrConnectionDefunct, err))
			return
		}
		msg, err := DecodeMessage(el)
		if err != nil {
			c.fatal(fmt.Errorf("%w: %w", ErrConnectionDefunct, err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg *Message) {
	if msg.MessageID == 0 {
		c.logger.Debug("unsolicited_notification_dropped",
			slog.String("server", c.address))
		return
	}

	var pr *pendingRequest
	var outstanding bool
	if isTerminalOp(msg.ProtocolOp.Tag) {
		// Terminal responses detach the handle so exactly one result is
		// ever delivered per request.
		pr, outstanding = c.registry.remove(msg.MessageID)
	} else {
		pr, outstanding = c.registry.lookup(msg.MessageID)
	}
	if !outstanding {
		c.logger.Debug("late_response_dropped",
			slog.Int("message_id", int(msg.MessageID)),
			slog.String("server", c.address))
		return
	}

	select {
	case pr.msgs <- msg:
	case <-pr.done:
		// waiter is gone; drop the message
	}
}

// fatal marks the connection defunct and resolves every outstanding
// request with the given error. Safe to call from any path; only the
// first transition acts. A connection closed deliberately resolves its
// stragglers with ErrConnectionClosed instead.
func (c *Conn) fatal(err error) {
	if c.State() == StateClosed {
		c.registry.failAll(ErrConnectionClosed)
		return
	}
	c.setState(StateDefunct)
	c.registry.failAll(err)
	c.netConn.Close()
	c.logger.Debug("connection_defunct",
		slog.String("server", c.address),
		slog.String("error", err.Error()))
}

// bind performs the simple bind handshake.
func (c *Conn) bind(ctx context.Context, dn, password string, timeout time.Duration) error {
	op := ber.NewSequence(ApplicationBindRequest,
		ber.NewInteger(ber.TagInteger, 3),
		ber.NewOctetString(ber.TagOctetString, []byte(dn)),
		ber.NewOctetString(typeSimpleAuthentication, []byte(password)),
	)
	pr, err := c.send(op, nil)
	if err != nil {
		return fmt.Errorf("%w: bind: %v", ErrConnect, err)
	}
	result, err := c.awaitResult(ctx, pr, timeout, nil)
	if err != nil {
		return fmt.Errorf("%w: bind: %v", ErrConnect, err)
	}
	if result.ResultCode != ResultSuccess {
		return opError("Bind", c.address,
			fmt.Errorf("%w: %s: %s", ErrConnect, result.ResultCode, result.DiagnosticMessage))
	}
	return nil
}

// typeSimpleAuthentication is the context tag of the simple authentication
// choice in a bind request.
const typeSimpleAuthentication byte = 0x80

// Close shuts the connection down: a best-effort unbind, then the socket.
// The dying receive loop resolves any outstanding requests.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		wasDefunct := c.State() == StateDefunct
		c.setState(StateClosed)
		if !wasDefunct {
			op := ber.NewNull(ApplicationUnbindRequest)
			msg := &Message{MessageID: c.registry.nextMessageID(), ProtocolOp: op}
			c.sendMu.Lock()
			c.netConn.SetWriteDeadline(time.Now().Add(time.Second))
			c.netConn.Write(msg.Encode())
			c.sendMu.Unlock()
		}
		c.netConn.Close()
		c.registry.failAll(ErrConnectionClosed)
	})
}

// isTerminalOp reports whether a response operation ends its request.
// Search entries, search references and intermediate responses are the
// only streaming (non-terminal) responses.
func isTerminalOp(tag byte) bool {
	switch tag {
	case ApplicationSearchResultEntry, ApplicationSearchResultReference, ApplicationIntermediateResponse:
		return false
	default:
		return true
	}
}
