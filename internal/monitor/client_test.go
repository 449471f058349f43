package monitor

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockPeer is a minimal emulator-side monitor for tests. It accepts one
// connection and answers each decoded request through a handler that
// returns zero or more response frames.
type mockPeer struct {
	t        *testing.T
	dialect  *Dialect
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	requests int32

	// handler maps a request to response frames. Nil responses mean stay
	// silent. The default acks with the echoed command code.
	handler func(cmd byte, id uint32, body []byte) []*Frame
}

func startMockPeer(t *testing.T, d *Dialect, handler func(cmd byte, id uint32, body []byte) []*Frame) *mockPeer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &mockPeer{t: t, dialect: d, listener: listener, handler: handler}
	go p.serve()
	t.Cleanup(p.stop)
	return p
}

func (p *mockPeer) serve() {
	conn, err := p.listener.Accept()
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	d := p.dialect
	hdrLen := 6 + d.IDSize + 1
	hdr := make([]byte, hdrLen)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		bodyLen := binary.LittleEndian.Uint32(hdr[2:6])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		id := readID(hdr[6:6+d.IDSize], d.IDSize)
		cmd := hdr[6+d.IDSize]
		atomic.AddInt32(&p.requests, 1)

		var frames []*Frame
		if p.handler != nil {
			frames = p.handler(cmd, id, body)
		} else {
			frames = []*Frame{{KindCode: cmd, RequestID: id}}
		}
		for _, f := range frames {
			if _, err := conn.Write(EncodeResponse(d, f)); err != nil {
				return
			}
		}
	}
}

// push sends an unsolicited frame to the connected client.
func (p *mockPeer) push(f *Frame) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		p.t.Fatal("mock peer: no connection to push on")
	}
	if _, err := conn.Write(EncodeResponse(p.dialect, f)); err != nil {
		p.t.Errorf("mock peer push: %v", err)
	}
}

// dropConnection severs the socket from the peer side.
func (p *mockPeer) dropConnection() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *mockPeer) requestCount() int {
	return int(atomic.LoadInt32(&p.requests))
}

func (p *mockPeer) addr() (string, int) {
	a := p.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", a.Port
}

func (p *mockPeer) stop() {
	p.listener.Close()
	p.dropConnection()
}

// connectClient dials the mock peer and waits for it to hold the
// connection so push and dropConnection are usable immediately.
func connectClient(t *testing.T, p *mockPeer, opts ...Option) *Client {
	t.Helper()
	c := NewClient(p.dialect, opts...)
	host, port := p.addr()
	if err := c.Connect(host, port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		ready := p.conn != nil
		p.mu.Unlock()
		if ready {
			return c
		}
		if time.Now().After(deadline) {
			t.Fatal("mock peer never accepted the connection")
		}
		time.Sleep(time.Millisecond)
	}
}

func encodeCheckpointInfo(cp Checkpoint) []byte {
	body := make([]byte, checkpointInfoLen)
	binary.LittleEndian.PutUint32(body[0:4], cp.ID)
	if cp.Hit {
		body[4] = 1
	}
	binary.LittleEndian.PutUint16(body[5:7], cp.Start)
	binary.LittleEndian.PutUint16(body[7:9], cp.End)
	if cp.Stop {
		body[9] = 1
	}
	if cp.Enabled {
		body[10] = 1
	}
	body[11] = byte(cp.Op)
	if cp.Temporary {
		body[12] = 1
	}
	binary.LittleEndian.PutUint32(body[13:17], cp.HitCount)
	binary.LittleEndian.PutUint32(body[17:21], cp.IgnoreCount)
	body[22] = byte(cp.Memspace)
	return body
}

func TestConnectAlreadyConnected(t *testing.T) {
	p := startMockPeer(t, DialectV2(), nil)
	c := connectClient(t, p)

	host, port := p.addr()
	err := c.Connect(host, port)
	var merr *Error
	if !errors.As(err, &merr) || merr.Code != CodeAlreadyConnected {
		t.Fatalf("expected ALREADY_CONNECTED, got %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	c := NewClient(DialectV2(), WithConnectTimeout(time.Second))
	err := c.Connect("127.0.0.1", 1) // nothing listens here
	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if merr.Code != CodeConnectFailed && merr.Code != CodeConnectTimeout {
		t.Errorf("unexpected code %s", merr.Code)
	}
	if merr.Suggestion == "" {
		t.Error("connect error should carry a remediation hint")
	}
}

func TestPing(t *testing.T) {
	p := startMockPeer(t, DialectV2(), nil)
	c := connectClient(t, p)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	st := c.State()
	if !st.Connected || !st.Running {
		t.Errorf("unexpected state after connect: %+v", st)
	}
}

func TestNotConnected(t *testing.T) {
	c := NewClient(DialectV2())
	err := c.Ping(context.Background())
	var merr *Error
	if !errors.As(err, &merr) || merr.Code != CodeNotConnected {
		t.Fatalf("expected NOT_CONNECTED, got %v", err)
	}
}

func TestReadMemoryValidationSendsNothing(t *testing.T) {
	p := startMockPeer(t, DialectV2(), nil)
	c := connectClient(t, p)
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end int
	}{
		{"inverted range", 0x1000, 0x0fff},
		{"start too large", 0x10000, 0x10001},
		{"end too large", 0xffff, 0x10000},
		{"negative start", -1, 0x10},
	}
	for _, tc := range cases {
		if _, err := c.ReadMemory(ctx, tc.start, tc.end, MemMain); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
	// Validation failures are local; nothing may reach the wire.
	time.Sleep(20 * time.Millisecond)
	if n := p.requestCount(); n != 0 {
		t.Errorf("expected 0 requests on the wire, got %d", n)
	}
}

func TestReadMemoryScreenCodes(t *testing.T) {
	screen := make([]byte, 40)
	for i := range screen {
		screen[i] = byte(i + 1)
	}

	d := DialectV2()
	p := startMockPeer(t, d, func(cmd byte, id uint32, body []byte) []*Frame {
		if cmd != d.Commands[CmdMemoryGet] {
			t.Errorf("unexpected command 0x%02x", cmd)
		}
		start := binary.LittleEndian.Uint16(body[1:3])
		end := binary.LittleEndian.Uint16(body[3:5])
		if start != 0x0400 || end != 0x0427 {
			t.Errorf("unexpected range $%04X-$%04X", start, end)
		}
		resp := make([]byte, 2+len(screen))
		binary.LittleEndian.PutUint16(resp[0:2], uint16(len(screen)))
		copy(resp[2:], screen)
		return []*Frame{{KindCode: cmd, RequestID: id, Body: resp}}
	})
	c := connectClient(t, p)

	data, err := c.ReadMemory(context.Background(), 0x0400, 0x0427, MemMain)
	if err != nil {
		t.Fatalf("readMemory: %v", err)
	}
	if len(data) != 40 {
		t.Fatalf("expected 40 bytes, got %d", len(data))
	}
	for i, b := range data {
		if b != screen[i] {
			t.Fatalf("byte %d: expected 0x%02x, got 0x%02x", i, screen[i], b)
		}
	}
}

func TestWriteMemoryValidation(t *testing.T) {
	p := startMockPeer(t, DialectV2(), nil)
	c := connectClient(t, p)
	ctx := context.Background()

	if err := c.WriteMemory(ctx, 0x1000, nil, MemMain); err == nil {
		t.Error("expected error for empty payload")
	}
	if err := c.WriteMemory(ctx, 0xffff, []byte{1, 2}, MemMain); err == nil {
		t.Error("expected error for write past $FFFF")
	}
	if err := c.WriteMemory(ctx, 0xfffe, []byte{1, 2}, MemMain); err != nil {
		t.Errorf("write ending exactly at $FFFF should pass: %v", err)
	}
}

func TestTimeoutIsolation(t *testing.T) {
	d := DialectV2()
	silentPing := func(cmd byte, id uint32, body []byte) []*Frame {
		if cmd == d.Commands[CmdPing] {
			return nil // never answer pings
		}
		return []*Frame{{KindCode: cmd, RequestID: id}}
	}
	p := startMockPeer(t, d, silentPing)
	c := connectClient(t, p, WithRequestTimeout(100*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var pingErr error
	go func() {
		defer wg.Done()
		pingErr = c.Ping(ctx)
	}()

	// A call that does get answered is unaffected by the one timing out.
	if err := c.Continue(ctx); err != nil {
		t.Errorf("continue failed alongside timing-out ping: %v", err)
	}

	wg.Wait()
	var merr *Error
	if !errors.As(pingErr, &merr) || merr.Code != CodeResponseTimeout {
		t.Fatalf("expected RESPONSE_TIMEOUT, got %v", pingErr)
	}

	c.mu.Lock()
	left := len(c.pending)
	c.mu.Unlock()
	if left != 0 {
		t.Errorf("%d calls left pending after timeout", left)
	}
}

func TestDisconnectionFairness(t *testing.T) {
	d := DialectV2()
	p := startMockPeer(t, d, func(cmd byte, id uint32, body []byte) []*Frame {
		return nil // leave everything pending
	})
	c := connectClient(t, p, WithRequestTimeout(5*time.Second))
	ctx := context.Background()

	const calls = 3
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			errs <- c.Ping(ctx)
		}()
	}

	// Wait until all three are registered, then sever the socket.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		n := len(c.pending)
		c.mu.Unlock()
		if n == calls {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d calls registered", n)
		}
		time.Sleep(time.Millisecond)
	}
	p.dropConnection()

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			var merr *Error
			if !errors.As(err, &merr) || merr.Code != CodeConnectionClosed {
				t.Errorf("call %d: expected CONNECTION_CLOSED, got %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("call left pending after disconnect")
		}
	}

	if st := c.State(); st.Connected {
		t.Error("state still connected after socket close")
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	p := startMockPeer(t, DialectV2(), nil)
	c := connectClient(t, p)

	c.Disconnect()
	deadline := time.Now().Add(time.Second)
	for c.State().Connected {
		if time.Now().After(deadline) {
			t.Fatal("client never observed its own disconnect")
		}
		time.Sleep(time.Millisecond)
	}

	p2 := startMockPeer(t, DialectV2(), nil)
	host, port := p2.addr()
	if err := c.Connect(host, port); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping after reconnect: %v", err)
	}
}

func TestAsyncKindMatching(t *testing.T) {
	d := DialectV2()
	regs := func() []byte {
		body := []byte{6, 0}
		add := func(id byte, value uint16) {
			item := make([]byte, 4)
			item[0] = 3
			item[1] = id
			binary.LittleEndian.PutUint16(item[2:4], value)
			body = append(body, item...)
		}
		add(regA, 0x01)
		add(regX, 0x02)
		add(regY, 0x03)
		add(regPC, 0xc000)
		add(regSP, 0xf8)
		add(regFlags, 0xb1)
		return body
	}()

	p := startMockPeer(t, d, func(cmd byte, id uint32, body []byte) []*Frame {
		if cmd != d.Commands[CmdRegistersGet] {
			return []*Frame{{KindCode: cmd, RequestID: id}}
		}
		// Answer out-of-band: async sentinel id, register-info kind.
		return []*Frame{{KindCode: 0x31, RequestID: d.AsyncID, Body: regs}}
	})
	c := connectClient(t, p)

	r, err := c.GetRegisters(context.Background(), MemMain)
	if err != nil {
		t.Fatalf("getRegisters: %v", err)
	}
	if r.PC != 0xc000 || r.A != 0x01 || r.SP != 0xf8 {
		t.Errorf("register mismatch: %+v", r)
	}
	st := r.Status()
	if !st.Negative || !st.Carry || st.Zero {
		t.Errorf("flag decode mismatch: %+v", st)
	}
}

func TestRunStateEvents(t *testing.T) {
	d := DialectV2()
	p := startMockPeer(t, d, nil)
	c := connectClient(t, p)

	events := make(chan bool, 4)
	c.OnRunStateChanged(func(running bool) { events <- running })

	pcBody := make([]byte, 2)
	binary.LittleEndian.PutUint16(pcBody, 0xc000)
	p.push(&Frame{KindCode: 0x62, RequestID: d.AsyncID, Body: pcBody}) // stopped

	select {
	case running := <-events:
		if running {
			t.Error("expected stopped event")
		}
	case <-time.After(time.Second):
		t.Fatal("no run-state event for stopped frame")
	}
	if c.State().Running {
		t.Error("state still running after stopped frame")
	}

	p.push(&Frame{KindCode: 0x63, RequestID: d.AsyncID, Body: pcBody}) // resumed
	select {
	case running := <-events:
		if !running {
			t.Error("expected resumed event")
		}
	case <-time.After(time.Second):
		t.Fatal("no run-state event for resumed frame")
	}
}

func TestPeerErrorClassification(t *testing.T) {
	d := DialectV2()
	p := startMockPeer(t, d, func(cmd byte, id uint32, body []byte) []*Frame {
		return []*Frame{{KindCode: cmd, RequestID: id, Status: statusObjectMissing}}
	})
	c := connectClient(t, p)

	err := c.DeleteCheckpoint(context.Background(), 99)
	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if merr.Code != CodePeerError || merr.Status != statusObjectMissing {
		t.Errorf("unexpected classification: %+v", merr)
	}
	if merr.Suggestion == "" {
		t.Error("peer error should carry a suggestion")
	}
}

func TestUnknownPeerStatusFallback(t *testing.T) {
	merr := classifyStatus(0x7f)
	if merr.Code != CodePeerError {
		t.Errorf("unexpected code %s", merr.Code)
	}
	if merr.Suggestion == "" || merr.Message == "" {
		t.Error("fallback error should still carry message and suggestion")
	}
}
