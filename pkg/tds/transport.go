package tds

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

// IOErrorKind distinguishes the ways a Transport operation can fail, per
// spec.md's IOError taxonomy.
type IOErrorKind int

const (
	IOErrUnknown IOErrorKind = iota
	IOErrConnectFailed
	IOErrPeerClosed
	IOErrTimeout
	IOErrTLSInit
	IOErrTLSHandshake
	IOErrTLSPeerClosed
	IOErrServerRefusedEncrypt
)

func (k IOErrorKind) String() string {
	switch k {
	case IOErrConnectFailed:
		return "connect-failed"
	case IOErrPeerClosed:
		return "peer-closed"
	case IOErrTimeout:
		return "timeout"
	case IOErrTLSInit:
		return "tls-init-failed"
	case IOErrTLSHandshake:
		return "tls-handshake-failed"
	case IOErrTLSPeerClosed:
		return "tls-peer-closed"
	case IOErrServerRefusedEncrypt:
		return "server-refused-encrypt"
	default:
		return "unknown"
	}
}

// IOError wraps a transport-layer failure with its kind.
type IOError struct {
	Kind IOErrorKind
	Err  error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

func newIOError(kind IOErrorKind, err error) *IOError {
	return &IOError{Kind: kind, Err: err}
}

// Transport frames TDS packets over an underlying net.Conn, which may be
// swapped out mid-connection (plaintext -> TLS) without disturbing callers
// that hold a *Transport.
//
// A Transport is not safe for concurrent use by multiple goroutines; the
// connection state machine guarantees only one in-flight message at a time.
type Transport struct {
	conn       net.Conn
	packetSize int
	nextPktID  uint8
	spid       uint16

	recvBuf    []byte // holds a partial header/payload across Read calls
	recvBufPos int
}

// NewTransport wraps conn with TDS packet framing at the given (already
// negotiated) packet size.
func NewTransport(conn net.Conn, packetSize int) *Transport {
	return &Transport{
		conn:       conn,
		packetSize: ClampPacketSize(packetSize),
		nextPktID:  1,
	}
}

// SetConn swaps the underlying connection, used when TLS negotiation
// replaces the raw socket with an encrypted one.
func (t *Transport) SetConn(conn net.Conn) {
	t.conn = conn
	t.recvBuf = nil
	t.recvBufPos = 0
}

// Conn returns the current underlying connection.
func (t *Transport) Conn() net.Conn { return t.conn }

// SetPacketSize updates the negotiated packet size used for outbound
// framing (ENVCHANGE PacketSize or PRELOGIN negotiation may change this
// after connect).
func (t *Transport) SetPacketSize(n int) { t.packetSize = ClampPacketSize(n) }

func (t *Transport) PacketSize() int { return t.packetSize }

// Close closes the underlying connection.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// SendPacket writes a single TDS packet. Payloads larger than the
// negotiated packet size are split into multiple physical packets, with
// EOM set only on the last one.
func (t *Transport) SendPacket(typ PacketType, payload []byte) error {
	maxBody := t.packetSize - HeaderSize
	if maxBody <= 0 {
		maxBody = DefaultPacketSize - HeaderSize
	}

	if len(payload) == 0 {
		return t.sendOne(typ, StatusEOM, nil)
	}

	for off := 0; off < len(payload); off += maxBody {
		end := off + maxBody
		last := end >= len(payload)
		if end > len(payload) {
			end = len(payload)
		}
		status := StatusNormal
		if last {
			status = StatusEOM
		}
		if err := t.sendOne(typ, status, payload[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) sendOne(typ PacketType, status PacketStatus, chunk []byte) error {
	hdr := Header{
		Type:     typ,
		Status:   status,
		Length:   uint16(HeaderSize + len(chunk)),
		SPID:     t.spid,
		PacketID: t.nextPktID,
		Window:   0,
	}
	t.nextPktID++
	if t.nextPktID == 0 {
		t.nextPktID = 1
	}

	buf := make([]byte, HeaderSize+len(chunk))
	buf[0] = byte(hdr.Type)
	buf[1] = byte(hdr.Status)
	binary.BigEndian.PutUint16(buf[2:4], hdr.Length)
	binary.BigEndian.PutUint16(buf[4:6], hdr.SPID)
	buf[6] = hdr.PacketID
	buf[7] = hdr.Window
	copy(buf[HeaderSize:], chunk)

	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	if _, err := t.conn.Write(buf); err != nil {
		return classifyNetError(err, IOErrPeerClosed)
	}
	return nil
}

func (t *Transport) setWriteDeadline() error {
	return nil // write deadlines are set per-call by callers via net.Conn directly when needed
}

// Packet is one physical TDS packet as returned by ReceivePacket.
type Packet struct {
	Header  Header
	Payload []byte
}

// ReceivePacket reads exactly one physical TDS packet, blocking up to
// timeout (zero means no deadline). It never returns a torn header: if
// the deadline elapses mid-header, it returns an IOError of kind
// IOErrTimeout.
func (t *Transport) ReceivePacket(timeout time.Duration) (*Packet, error) {
	if timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
		defer t.conn.SetReadDeadline(time.Time{})
	}

	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(t.conn, hdrBuf[:]); err != nil {
		return nil, classifyNetError(err, IOErrPeerClosed)
	}

	hdr := Header{
		Type:     PacketType(hdrBuf[0]),
		Status:   PacketStatus(hdrBuf[1]),
		Length:   binary.BigEndian.Uint16(hdrBuf[2:4]),
		SPID:     binary.BigEndian.Uint16(hdrBuf[4:6]),
		PacketID: hdrBuf[6],
		Window:   hdrBuf[7],
	}

	payloadLen := hdr.PayloadLength()
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			return nil, classifyNetError(err, IOErrPeerClosed)
		}
	}

	return &Packet{Header: hdr, Payload: payload}, nil
}

// ClearReceiveBuffer discards any internally buffered partial state. The
// Transport itself holds no cross-packet buffer (that's TokenParser's
// job), so this is a no-op retained for symmetry with callers that also
// reset a TokenParser.
func (t *Transport) ClearReceiveBuffer() {
	t.recvBuf = nil
	t.recvBufPos = 0
}

func classifyNetError(err error, defaultKind IOErrorKind) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return newIOError(IOErrPeerClosed, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return newIOError(IOErrTimeout, err)
	}
	return newIOError(defaultKind, err)
}

// Dial opens a TCP connection to addr with the given connect timeout and
// wraps it in a Transport at DefaultPacketSize (the caller renegotiates
// the size after PRELOGIN).
func Dial(network, addr string, connectTimeout time.Duration) (*Transport, error) {
	conn, err := net.DialTimeout(network, addr, connectTimeout)
	if err != nil {
		return nil, newIOError(IOErrConnectFailed, err)
	}
	return NewTransport(conn, DefaultPacketSize), nil
}
