package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// State is a snapshot of the connection lifecycle.
type State struct {
	Connected bool
	Host      string
	Port      int
	Running   bool
}

// result carries a resolved call back to its waiter.
type result struct {
	frame *Frame
	err   error
}

// pendingCall is one in-flight request. It is created before the request
// bytes are written and removed exactly once: by a matching response, by
// connection teardown, or by the caller's timeout, whichever deletes it from
// the table first.
type pendingCall struct {
	id       uint32
	expected ResponseKind // RespInvalid when only an id match applies
	seq      uint64       // insertion order for async-kind matching
	ch       chan result  // buffered(1); owner of the table entry sends
}

// Client owns one monitor connection: socket lifecycle, the stream decoder,
// and the pending-call table. All socket reads happen on a single goroutine;
// callers may invoke commands concurrently.
type Client struct {
	dialect        *Dialect
	connectTimeout time.Duration
	requestTimeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	dec       *Decoder
	done      chan struct{} // closed on teardown of the current connection
	connected bool
	running   bool
	host      string
	port      int
	pending   map[uint32]*pendingCall
	nextID    uint32
	nextSeq   uint64

	handlerMu       sync.RWMutex
	onRunState      func(running bool)
	onCheckpointHit func(cp Checkpoint)

	checkpoints checkpointTable
}

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout sets the dial timeout (default 5s).
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithRequestTimeout sets the per-call response timeout (default 10s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient creates a client speaking the given protocol dialect. The client
// starts disconnected; callers own the instance and may run several
// independent ones.
func NewClient(dialect *Dialect, opts ...Option) *Client {
	c := &Client{
		dialect:        dialect,
		connectTimeout: 5 * time.Second,
		requestTimeout: 10 * time.Second,
		pending:        make(map[uint32]*pendingCall),
	}
	c.checkpoints.init()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the protocol dialect the client speaks.
func (c *Client) Dialect() *Dialect {
	return c.dialect
}

// State returns a snapshot of the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Connected: c.connected, Host: c.host, Port: c.port, Running: c.running}
}

// OnRunStateChanged registers a sink invoked from the read loop whenever an
// execution-stopped or execution-resumed frame arrives. Handlers must not
// block; they run before the frame is offered to any pending call.
func (c *Client) OnRunStateChanged(fn func(running bool)) {
	c.handlerMu.Lock()
	c.onRunState = fn
	c.handlerMu.Unlock()
}

// OnCheckpointHit registers a sink invoked when the peer reports a
// checkpoint hit outside any pending call.
func (c *Client) OnCheckpointHit(fn func(cp Checkpoint)) {
	c.handlerMu.Lock()
	c.onCheckpointHit = fn
	c.handlerMu.Unlock()
}

// Connect opens the monitor socket. It fails when a connection is already
// open. On success the emulator is assumed to be running until a stopped
// frame says otherwise.
func (c *Client) Connect(host string, port int) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return newError(CodeAlreadyConnected, ErrAlreadyConnected,
			"a monitor connection is already open",
			"disconnect before connecting again")
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		code := CodeConnectFailed
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			code = CodeConnectTimeout
		}
		return newError(code, err,
			fmt.Sprintf("cannot reach emulator at %s", addr),
			"ensure the emulator's binary monitor is enabled on this host:port")
	}

	c.mu.Lock()
	if c.connected {
		// Lost a connect race; keep the first connection.
		c.mu.Unlock()
		conn.Close()
		return newError(CodeAlreadyConnected, ErrAlreadyConnected,
			"a monitor connection is already open",
			"disconnect before connecting again")
	}
	c.conn = conn
	c.dec = NewDecoder(c.dialect)
	c.done = make(chan struct{})
	c.connected = true
	c.running = true
	c.host = host
	c.port = port
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the socket. All pending calls reject with a
// connection-closed error. Disconnecting while disconnected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close() // read loop observes the error and tears down
	}
}

// readLoop pulls bytes off the socket, feeds the decoder, and dispatches
// each complete frame. It exits when the socket errors or closes, failing
// every pending call.
func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			frames := c.dec.Feed(buf[:n])
			c.mu.Unlock()
			for _, f := range frames {
				c.handleFrame(f)
			}
		}
		if err != nil {
			c.teardown(conn, done)
			return
		}
	}
}

// teardown marks the connection closed and rejects all pending calls,
// each exactly once.
func (c *Client) teardown(conn net.Conn, done chan struct{}) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.dec = nil
	c.connected = false
	c.running = false
	failed := c.pending
	c.pending = make(map[uint32]*pendingCall)
	close(done)
	c.mu.Unlock()

	conn.Close()
	err := newError(CodeConnectionClosed, ErrConnectionClosed,
		"connection to the emulator closed unexpectedly",
		"reconnect and retry; check that the emulator is still running")
	for _, pc := range failed {
		pc.ch <- result{err: err}
	}
}

// handleFrame classifies one frame: state-change event first, then
// correlation. A single frame may be both (a resumed frame can also answer
// an in-flight continue).
func (c *Client) handleFrame(f *Frame) {
	switch f.Kind {
	case RespStopped, RespJammed:
		c.setRunning(false)
	case RespResumed:
		c.setRunning(true)
	}

	c.mu.Lock()
	var pc *pendingCall
	if !f.Async(c.dialect) {
		if p, ok := c.pending[f.RequestID]; ok {
			delete(c.pending, f.RequestID)
			pc = p
		}
	} else {
		// Unsolicited frames cannot be matched by id. Resolve the oldest
		// pending call expecting this kind, if any.
		for _, p := range c.pending {
			if p.expected == f.Kind && (pc == nil || p.seq < pc.seq) {
				pc = p
			}
		}
		if pc != nil {
			delete(c.pending, pc.id)
		}
	}
	c.mu.Unlock()

	if pc != nil {
		if f.Status != statusOK {
			pc.ch <- result{err: classifyStatus(f.Status)}
		} else {
			pc.ch <- result{frame: f}
		}
		return
	}

	if c.handleEvent(f) {
		return
	}
	switch f.Kind {
	case RespStopped, RespResumed, RespJammed:
		// Pure state notifications, already applied above.
	default:
		log.Printf("monitor: dropping unmatched frame kind=0x%02x id=%d", f.KindCode, f.RequestID)
	}
}

// handleEvent processes unsolicited frames with event semantics beyond the
// run-state pair. Currently that is the checkpoint-hit report, which also
// evicts consumed temporary checkpoints from the local table.
func (c *Client) handleEvent(f *Frame) bool {
	if f.Kind != RespCheckpointInfo || !f.Async(c.dialect) {
		return false
	}
	cp, err := decodeCheckpointInfo(f.Body)
	if err != nil {
		log.Printf("monitor: bad checkpoint event: %v", err)
		return true
	}
	if cp.Temporary {
		// The peer deletes a temporary checkpoint after it fires; mirror
		// that locally so the table cannot drift.
		c.checkpoints.remove(cp.ID)
	} else {
		c.checkpoints.put(cp)
	}
	c.handlerMu.RLock()
	fn := c.onCheckpointHit
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(cp)
	}
	return true
}

// setRunning updates the run flag and fires the sink on change.
func (c *Client) setRunning(running bool) {
	c.mu.Lock()
	changed := c.running != running
	c.running = running
	c.mu.Unlock()

	if !changed {
		return
	}
	c.handlerMu.RLock()
	fn := c.onRunState
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(running)
	}
}

// allocateID returns the next request id not held by a pending call.
// Unlike the peer's own tooling, colliding with a live call is refused
// rather than silently reusing the id. Caller holds c.mu.
func (c *Client) allocateID() (uint32, error) {
	max := c.dialect.MaxID()
	sentinel := sentinelFor(c.dialect)
	for i := uint32(0); i <= max; i++ {
		c.nextID++
		if c.nextID > max {
			c.nextID = 1
		}
		if c.nextID == sentinel {
			continue
		}
		if _, taken := c.pending[c.nextID]; !taken {
			return c.nextID, nil
		}
	}
	return 0, ErrIDExhausted
}

// send transmits a command and waits for the matching response. expected
// names the response kind used to claim async-tagged replies; pass
// RespInvalid for commands answered strictly by id.
func (c *Client) send(ctx context.Context, cmd Command, body []byte, expected ResponseKind) (*Frame, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, newError(CodeNotConnected, ErrNotConnected,
			"no monitor connection",
			"connect to the emulator first")
	}
	id, err := c.allocateID()
	if err != nil {
		c.mu.Unlock()
		return nil, newError(CodeSendFailed, err,
			"all request ids are in flight",
			"wait for outstanding calls to finish")
	}
	req, err := EncodeRequest(c.dialect, id, cmd, body)
	if err != nil {
		c.mu.Unlock()
		return nil, newError(CodeSendFailed, err, err.Error(),
			"select a protocol generation that supports this command")
	}

	// Register before writing so a fast response cannot race registration.
	pc := &pendingCall{
		id:       id,
		expected: expected,
		seq:      c.nextSeq,
		ch:       make(chan result, 1),
	}
	c.nextSeq++
	c.pending[id] = pc
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if _, err := conn.Write(req); err != nil {
		c.unregister(id)
		return nil, newError(CodeSendFailed, err,
			"failed to send request to the emulator",
			"the connection may have dropped; reconnect and retry")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	select {
	case r := <-pc.ch:
		return r.frame, r.err
	case <-done:
		// teardown already resolved or will resolve pc.ch; prefer its error.
		r := <-pc.ch
		return r.frame, r.err
	case <-ctx.Done():
		if c.unregister(id) {
			return nil, newError(CodeResponseTimeout, ErrTimeout,
				fmt.Sprintf("no response to %s", cmd),
				"the emulator may be wedged; check its monitor state")
		}
		// Lost the race: a resolver removed the entry first and its send
		// to the buffered channel cannot block. Take that result.
		r := <-pc.ch
		return r.frame, r.err
	}
}

// unregister removes a pending call, reporting whether this caller owned
// the removal. Presence in the table is the single source of truth for who
// resolves the call.
func (c *Client) unregister(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return true
	}
	return false
}
