package tds

import (
	"io"
	"time"
)

// SendAttention sends an ATTENTION packet (empty body, single physical
// packet with EOM set) to request cancellation of the command currently
// executing on this connection.
func SendAttention(t *Transport) error {
	return t.SendPacket(PacketAttention, nil)
}

// DrainAttentionAck reads and discards response tokens until a DONE token
// with the DoneAttn status bit is seen, or deadline elapses. The server
// acknowledges ATTENTION by completing the in-flight response with a
// DONE(ATTN) token rather than a distinct message type, so the client must
// keep parsing the stream it already had open.
//
// This builds a fresh MessageReader over t, so it must only be used when
// no bytes of the in-flight message have been read into another reader
// yet — otherwise those buffered bytes are invisible to the fresh one and
// the drain stalls waiting for data that already arrived. A caller
// cancelling mid-message (the common case: ResultStream already has a
// MessageReader/TokenParser open) must use DrainAttentionAckParser on that
// same parser instead.
func DrainAttentionAck(t *Transport, deadline time.Duration) error {
	mr := NewMessageReader(t, deadline)
	p := NewTokenParser(mr)
	return DrainAttentionAckParser(p)
}

// DrainAttentionAckParser drains an already-open token stream until a
// DONE(ATTN) is seen, reusing p (and the MessageReader it wraps) so any
// bytes already buffered ahead of the ack are not lost. Any ROW/NBCROW
// tokens still buffered ahead of the ack are measured and discarded at
// wire speed via the parser's skip mode rather than fully decoded —
// nobody reads a cancelled query's rows.
func DrainAttentionAckParser(p *TokenParser) error {
	p.SetSkipMode(true)

	for {
		tok, err := p.Next()
		if err == io.EOF {
			// Message ended without an explicit ATTN ack; nothing more to
			// drain on this transport for this command.
			return nil
		}
		if err != nil {
			return err
		}
		if tok.Type == TokDone && tok.Done.AcksAttn() {
			return nil
		}
	}
}
