package connection

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/auth"
	"github.com/ha1tch/mssqlengine/pkg/tds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer drives the server side of a handshake over an in-memory
// net.Pipe, standing in for a real listener the way the teacher's
// protocol/tds/listener_test.go stands up net.Listener on 127.0.0.1:0 —
// this module is the client, so its fake counterpart replies with
// hand-built wire bytes rather than running a second TDS stack.
type fakeServer struct {
	t         *testing.T
	transport *tds.Transport
}

func newFakeServerPair(t *testing.T) (clientConn net.Conn, srv *fakeServer) {
	t.Helper()
	a, b := net.Pipe()
	srv = &fakeServer{t: t, transport: tds.NewTransport(b, tds.DefaultPacketSize)}
	return a, srv
}

// answerPreloginNoEncrypt reads the client's PRELOGIN packet and answers
// with EncryptNotSup (no TLS required), the simplest handshake leg.
func (s *fakeServer) answerPreloginNoEncrypt() {
	pkt, err := s.transport.ReceivePacket(5 * time.Second)
	require.NoError(s.t, err)
	require.Equal(s.t, tds.PacketPrelogin, pkt.Header.Type)

	resp := encodePreloginResponse(tds.EncryptNotSup)
	require.NoError(s.t, s.transport.SendPacket(tds.PacketPrelogin, resp))
}

// answerLoginSuccessfully reads the client's LOGIN7 packet and answers
// with a LOGINACK followed by a final DONE, the minimal successful login
// response.
func (s *fakeServer) answerLoginSuccessfully() {
	pkt, err := s.transport.ReceivePacket(5 * time.Second)
	require.NoError(s.t, err)
	require.Equal(s.t, tds.PacketLogin7, pkt.Header.Type)

	msg := append(encodeLoginAck(), encodeDoneToken(tds.DoneFinal, 0, 0)...)
	require.NoError(s.t, s.transport.SendPacket(tds.PacketReply, msg))
}

func (s *fakeServer) answerLoginError(number int32, message string) {
	pkt, err := s.transport.ReceivePacket(5 * time.Second)
	require.NoError(s.t, err)
	require.Equal(s.t, tds.PacketLogin7, pkt.Header.Type)

	msg := append(encodeErrorToken(number, message), encodeDoneToken(tds.DoneFinal|tds.DoneError, 0, 0)...)
	require.NoError(s.t, s.transport.SendPacket(tds.PacketReply, msg))
}

func encodePreloginResponse(encryption uint8) []byte {
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

func encodeLoginAck() []byte {
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

	msg := []byte{0xAD} // TokenLoginAck
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(body)))
	msg = append(msg, lb[:]...)
	msg = append(msg, body...)
	return msg
}

func encodeErrorToken(number int32, message string) []byte {
	msgBytes := tds.EncodeUCS2(message)
	body := make([]byte, 0, 16+len(msgBytes))
	var numBuf [4]byte
	binary.LittleEndian.PutUint32(numBuf[:], uint32(number))
	body = append(body, numBuf[:]...)
	body = append(body, 1)  // state
	body = append(body, 20) // severity (fatal)

	var msgLen [2]byte
	binary.LittleEndian.PutUint16(msgLen[:], uint16(len(msgBytes)/2))
	body = append(body, msgLen[:]...)
	body = append(body, msgBytes...)
	body = append(body, 0) // server name length
	body = append(body, 0) // proc name length
	body = append(body, 0, 0, 0, 0) // line number

	msg := []byte{0xAA} // TokenError
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(body)))
	msg = append(msg, lb[:]...)
	msg = append(msg, body...)
	return msg
}

func encodeDoneToken(status, curCmd uint16, rowCount uint64) []byte {
	msg := []byte{0xFD} // TokenDone
	var s, c [2]byte
	binary.LittleEndian.PutUint16(s[:], status)
	binary.LittleEndian.PutUint16(c[:], curCmd)
	msg = append(msg, s[:]...)
	msg = append(msg, c[:]...)
	var rc [8]byte
	binary.LittleEndian.PutUint64(rc[:], rowCount)
	msg = append(msg, rc[:]...)
	return msg
}

// connectOverPipe builds a Connection whose transport is already the client
// half of conn, bypassing New's real net.Dial so the test can drive both
// sides of an in-memory pipe.
func connectOverPipe(t *testing.T, conn net.Conn, strategy auth.Strategy) (*Connection, <-chan error) {
	t.Helper()
	c := &Connection{opt: Options{Strategy: strategy}, state: StateDisconnected, createdAt: time.Now()}
	c.transport = tds.NewTransport(conn, tds.DefaultPacketSize)

	result := make(chan error, 1)
	go func() {
		c.state = StateConnecting
		preOpt := c.opt.Strategy.PreloginOptions()
		req := &tds.PreloginRequest{Version: tds.DefaultClientVersion(), Encryption: encryptOption(preOpt.UseEncrypt)}
		if err := c.transport.SendPacket(tds.PacketPrelogin, req.Encode()); err != nil {
			result <- err
			return
		}
		pkt, err := c.transport.ReceivePacket(5 * time.Second)
		if err != nil {
			result <- err
			return
		}
		resp, err := tds.ParsePreloginResponse(pkt.Payload)
		if err != nil {
			result <- err
			return
		}
		c.fedAuthInfo = resp
		c.state = StateAuthenticating
		if err := c.login(context.Background()); err != nil {
			c.fail()
			result <- err
			return
		}
		c.state = StateIdle
		result <- nil
	}()
	return c, result
}

func TestConnection_Handshake_SucceedsWithSQLAuth(t *testing.T) {
	clientConn, srv := newFakeServerPair(t)
	defer clientConn.Close()

	strategy := &auth.SQLAuth{Username: "sa", Password: "pw", Database: "db"}
	conn, result := connectOverPipe(t, clientConn, strategy)

	srv.answerPreloginNoEncrypt()
	srv.answerLoginSuccessfully()

	require.NoError(t, <-result)
	assert.Equal(t, StateIdle, conn.State())
	assert.True(t, conn.IsAlive())
}

func TestConnection_Handshake_LoginErrorLeavesDisconnected(t *testing.T) {
	clientConn, srv := newFakeServerPair(t)
	defer clientConn.Close()

	strategy := &auth.SQLAuth{Username: "sa", Password: "wrong"}
	conn, result := connectOverPipe(t, clientConn, strategy)

	srv.answerPreloginNoEncrypt()
	srv.answerLoginError(tds.ErrLoginFailed, "Login failed for user 'sa'.")

	err := <-result
	require.Error(t, err)
	assert.False(t, conn.IsAlive())
}

func TestConnection_BeginExecute_RequiresIdleState(t *testing.T) {
	c := &Connection{state: StateExecuting}
	err := c.BeginExecute("SELECT 1")
	assert.Error(t, err)
}

func TestConnection_EndExecute_OnlyTransitionsFromExecuting(t *testing.T) {
	c := &Connection{state: StateIdle}
	c.EndExecute() // no-op outside Executing
	assert.Equal(t, StateIdle, c.State())
}

func TestConnection_Cancel_NoOpOutsideExecuting(t *testing.T) {
	c := &Connection{state: StateIdle}
	require.NoError(t, c.Cancel())
	assert.Equal(t, StateIdle, c.State())
}

func TestConnection_EndDrain_RestoresIdleOrDisconnects(t *testing.T) {
	c := &Connection{state: StateDraining}
	c.EndDrain(true)
	assert.Equal(t, StateIdle, c.State())

	c2 := &Connection{state: StateDraining}
	c2.EndDrain(false)
	assert.Equal(t, StateDisconnected, c2.State())
}

func TestConnection_IsAlive_FalseWithoutTransport(t *testing.T) {
	c := &Connection{state: StateIdle}
	assert.False(t, c.IsAlive())
}

func TestConnection_Cancel_SendsAttentionAndTransitionsToDraining(t *testing.T) {
	clientConn, srv := newFakeServerPair(t)
	defer clientConn.Close()
	defer srv.transport.Close()

	c := &Connection{state: StateExecuting, transport: tds.NewTransport(clientConn, tds.DefaultPacketSize)}

	recv := make(chan *tds.Packet, 1)
	go func() {
		pkt, err := srv.transport.ReceivePacket(5 * time.Second)
		require.NoError(t, err)
		recv <- pkt
	}()

	require.NoError(t, c.Cancel())
	assert.Equal(t, StateDraining, c.State())

	select {
	case pkt := <-recv:
		assert.Equal(t, tds.PacketAttention, pkt.Header.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive ATTENTION packet")
	}
}
