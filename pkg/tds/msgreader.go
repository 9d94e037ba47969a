package tds

import (
	"io"
	"time"
)

// MessageReader presents one logical TDS response message (possibly split
// across several physical packets) as a plain io.Reader: reads block on
// ReceivePacket as needed and the reader returns io.EOF once the packet
// carrying StatusEOM has been fully consumed.
type MessageReader struct {
	t       *Transport
	timeout time.Duration

	cur []byte
	pos int
	eom bool
}

// NewMessageReader wraps t to read a single response message, waiting up
// to timeout for each underlying packet (zero means no deadline).
func NewMessageReader(t *Transport, timeout time.Duration) *MessageReader {
	return &MessageReader{t: t, timeout: timeout}
}

// SetTimeout changes the per-packet read deadline applied to subsequent
// ReceivePacket calls, e.g. tightening it when a long-running query's
// reader is repurposed to drain a cancellation acknowledgment.
func (m *MessageReader) SetTimeout(timeout time.Duration) { m.timeout = timeout }

func (m *MessageReader) Read(p []byte) (int, error) {
	for m.pos >= len(m.cur) {
		if m.eom {
			return 0, io.EOF
		}
		pkt, err := m.t.ReceivePacket(m.timeout)
		if err != nil {
			return 0, err
		}
		m.cur = pkt.Payload
		m.pos = 0
		m.eom = pkt.Header.IsLastPacket()
	}
	n := copy(p, m.cur[m.pos:])
	m.pos += n
	return n, nil
}

// Drain reads and discards any remaining bytes of the current message,
// used when a caller abandons a message early (e.g. after a fatal error
// token) but still needs the transport left at a packet boundary.
func (m *MessageReader) Drain() error {
	var buf [4096]byte
	for {
		_, err := m.Read(buf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
