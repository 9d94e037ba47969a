package tds

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDrainAttentionAck_SkipsBufferedRowsAndFindsAck verifies Testable
// Property #7: rows already buffered ahead of a DONE(ATTN) acknowledgment
// are discarded without full decode, and the drain returns promptly once
// the ack is seen.
func TestDrainAttentionAck_SkipsBufferedRowsAndFindsAck(t *testing.T) {
	a, b := net.Pipe()
	client := NewTransport(a, DefaultPacketSize)
	server := NewTransport(b, DefaultPacketSize)
	defer client.Close()
	defer server.Close()

	cols := []Column{colInt4("ID"), colBigVarCharMax("Payload")}
	var body []byte
	body = append(body, encodeColMetadata(cols)...)
	for i := 0; i < 50; i++ {
		body = append(body, encodeRow(cols, []interface{}{int32(i), "buffered ahead of the attention ack"})...)
	}
	body = append(body, encodeDone(DoneFinal|DoneAttn, 0, 50)...)

	sendDone := make(chan error, 1)
	go func() { sendDone <- server.SendPacket(PacketReply, body) }()

	drainDone := make(chan error, 1)
	go func() { drainDone <- DrainAttentionAck(client, 5*time.Second) }()

	select {
	case err := <-drainDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("DrainAttentionAck did not return")
	}
	require.NoError(t, <-sendDone)
}

func TestDrainAttentionAck_NoAckReturnsOnEOF(t *testing.T) {
	a, b := net.Pipe()
	client := NewTransport(a, DefaultPacketSize)
	server := NewTransport(b, DefaultPacketSize)
	defer client.Close()
	defer server.Close()

	cols := []Column{colInt4("ID")}
	var body []byte
	body = append(body, encodeColMetadata(cols)...)
	body = append(body, encodeDone(DoneFinal, 0, 0)...) // no DoneAttn bit

	go func() { _ = server.SendPacket(PacketReply, body) }()

	err := DrainAttentionAck(client, 5*time.Second)
	assert.NoError(t, err)
}
