package pool

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/auth"
	"github.com/ha1tch/mssqlengine/pkg/connection"
	"github.com/ha1tch/mssqlengine/pkg/tds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTDSListener stands in for a real SQL Server over a real loopback
// listener (the Factory signature takes a concrete *connection.Connection,
// so unlike pkg/tds's net.Pipe doubles, the pool's test double needs a
// dialable address), driving each accepted socket through PRELOGIN/LOGIN7
// and then echoing DONE for every SQL_BATCH it receives, unless told to go
// silent and simulate a connection that died while idle.
type fakeTDSListener struct {
	ln           net.Listener
	shouldFailOn *atomic.Bool
}

func startFakeTDSListener(t *testing.T) *fakeTDSListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeTDSListener{ln: ln, shouldFailOn: &atomic.Bool{}}
	go f.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeTDSListener) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.serve(conn)
	}
}

func (f *fakeTDSListener) serve(conn net.Conn) {
	defer conn.Close()
	transport := tds.NewTransport(conn, tds.DefaultPacketSize)

	pkt, err := transport.ReceivePacket(5 * time.Second)
	if err != nil || pkt.Header.Type != tds.PacketPrelogin {
		return
	}
	if transport.SendPacket(tds.PacketPrelogin, encodePreloginResponseBytes(tds.EncryptNotSup)) != nil {
		return
	}

	pkt, err = transport.ReceivePacket(5 * time.Second)
	if err != nil || pkt.Header.Type != tds.PacketLogin7 {
		return
	}
	ackMsg := append(encodeLoginAckBytes(), encodeDoneTokenBytes(tds.DoneFinal, 0, 0)...)
	if transport.SendPacket(tds.PacketReply, ackMsg) != nil {
		return
	}

	for {
		pkt, err = transport.ReceivePacket(5 * time.Second)
		if err != nil {
			return
		}
		if pkt.Header.Type != tds.PacketSQLBatch {
			continue
		}
		if f.shouldFailOn.Load() {
			return // go silent: simulates a socket that died while idle
		}
		if transport.SendPacket(tds.PacketReply, encodeDoneTokenBytes(tds.DoneFinal, 0, 0)) != nil {
			return
		}
	}
}

func (f *fakeTDSListener) host() (string, int) {
	tcpAddr := f.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func (f *fakeTDSListener) factory() Factory {
	host, port := f.host()
	return func(ctx context.Context) (*connection.Connection, error) {
		return connection.New(ctx, connection.Options{
			Host:             host,
			Port:             port,
			Strategy:         &auth.SQLAuth{Username: "sa", Password: "pw"},
			ConnectTimeout:   2 * time.Second,
			HandshakeTimeout: 2 * time.Second,
		})
	}
}

func encodePreloginResponseBytes(encryption uint8) []byte {
	type opt struct {
		token uint8
		data  []byte
	}
	opts := []opt{
		{tds.PreloginVersion, make([]byte, 6)},
		{tds.PreloginEncryption, []byte{encryption}},
		{tds.PreloginInstOpt, []byte{0}},
		{tds.PreloginThreadID, make([]byte, 4)},
		{tds.PreloginMARS, []byte{0}},
	}
	headerSize := len(opts)*5 + 1
	offset := uint16(headerSize)
	header := make([]byte, 0, headerSize)
	data := make([]byte, 0, 32)
	for _, o := range opts {
		header = append(header, o.token)
		header = append(header, byte(offset>>8), byte(offset))
		header = append(header, byte(len(o.data)>>8), byte(len(o.data)))
		data = append(data, o.data...)
		offset += uint16(len(o.data))
	}
	header = append(header, tds.PreloginTerminator)
	return append(header, data...)
}

func encodeLoginAckBytes() []byte {
	progName := tds.EncodeUCS2("fake-mssql")
	body := make([]byte, 0, 16+len(progName))
	body = append(body, byte(tds.LoginAckSQL2008))
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], tds.VerTDS74)
	body = append(body, verBuf[:]...)
	body = append(body, byte(len(progName)/2))
	body = append(body, progName...)
	var progVerBuf [4]byte
	binary.BigEndian.PutUint32(progVerBuf[:], 0x0A000000)
	body = append(body, progVerBuf[:]...)

	msg := []byte{0xAD}
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(body)))
	msg = append(msg, lb[:]...)
	return append(msg, body...)
}

func encodeDoneTokenBytes(status, curCmd uint16, rowCount uint64) []byte {
	msg := []byte{0xFD}
	var s, c [2]byte
	binary.LittleEndian.PutUint16(s[:], status)
	binary.LittleEndian.PutUint16(c[:], curCmd)
	msg = append(msg, s[:]...)
	msg = append(msg, c[:]...)
	var rc [8]byte
	binary.LittleEndian.PutUint64(rc[:], rowCount)
	return append(msg, rc[:]...)
}

func TestPool_Acquire_GrowsUpToLimitThenTimesOut(t *testing.T) {
	srv := startFakeTDSListener(t)
	p := New(Config{Limit: 2, AcquireTimeout: 200 * time.Millisecond}, srv.factory())
	defer p.Shutdown()

	h1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "")
	require.Error(t, err, "pool is at its limit with no idle entries")

	st := p.Stats()
	assert.EqualValues(t, 2, st.Created)
	assert.EqualValues(t, 1, st.Timeouts)
	assert.Equal(t, 2, st.ActiveNow)

	h1.Release()
	h2.Release()
}

func TestPool_Release_ReusesIdleConnectionAfterSuccessfulPing(t *testing.T) {
	srv := startFakeTDSListener(t)
	p := New(Config{Limit: 1, CacheEnabled: true, LivenessDeadline: 2 * time.Second}, srv.factory())
	defer p.Shutdown()

	h1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	h1.Release()

	h2, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	defer h2.Release()

	st := p.Stats()
	assert.EqualValues(t, 1, st.Created, "second acquire should reuse the idle connection, not create a new one")
	assert.EqualValues(t, 2, st.Acquired)
}

func TestPool_Acquire_DiscardsIdleConnectionThatFailsPing(t *testing.T) {
	srv := startFakeTDSListener(t)
	p := New(Config{Limit: 1, CacheEnabled: true, LivenessDeadline: 2 * time.Second}, srv.factory())
	defer p.Shutdown()

	h1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	h1.Release()

	srv.shouldFailOn.Store(true)

	h2, err := p.Acquire(context.Background(), "")
	require.NoError(t, err, "acquire should fall through to creating a fresh connection")
	defer h2.Release()

	st := p.Stats()
	assert.EqualValues(t, 2, st.Created, "the dead idle connection must be discarded and replaced")
	assert.EqualValues(t, 1, st.Closed)
}

func TestPool_Acquire_PinnedTransactionReturnsSameHandle(t *testing.T) {
	srv := startFakeTDSListener(t)
	p := New(Config{Limit: 2}, srv.factory())
	defer p.Shutdown()

	h1, err := p.Acquire(context.Background(), "tx-1")
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), "tx-1")
	require.NoError(t, err)

	assert.Same(t, h1.Conn(), h2.Conn())
	assert.EqualValues(t, 1, p.Stats().Created)

	h2.ReleaseTx()
}

func TestPool_Shutdown_ClosesConnectionsAndRejectsFurtherAcquires(t *testing.T) {
	srv := startFakeTDSListener(t)
	p := New(Config{Limit: 2, CacheEnabled: true}, srv.factory())

	h1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	h1.Release()

	p.Shutdown()
	p.Shutdown() // idempotent

	_, err = p.Acquire(context.Background(), "")
	assert.Error(t, err)
}
