package tds

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenParser_Next_DecodesFullMessage verifies Testable Property #2
// (token-parser totality): every token in a well-formed message is decoded
// in order, and Next returns io.EOF exactly once the message is exhausted
// — nothing is dropped, nothing is invented.
func TestTokenParser_Next_DecodesFullMessage(t *testing.T) {
	cols := []Column{colInt4("ID"), colBigVarCharMax("Name")}
	var msg bytes.Buffer
	msg.Write(encodeColMetadata(cols))
	msg.Write(encodeRow(cols, []interface{}{int32(1), "alice"}))
	msg.Write(encodeRow(cols, []interface{}{int32(2), "bob"}))
	msg.Write(encodeDone(DoneFinal|DoneCount, 0, 2))

	p := NewTokenParser(&msg)

	tok, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, TokColMetadata, tok.Type)
	assert.Equal(t, cols, tok.Columns)

	tok, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, TokRow, tok.Type)
	assert.Equal(t, []interface{}{int64(1), "alice"}, tok.Row)

	tok, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, TokRow, tok.Type)
	assert.Equal(t, []interface{}{int64(2), "bob"}, tok.Row)

	tok, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, TokDone, tok.Type)
	assert.EqualValues(t, 2, tok.Done.RowCount)
	assert.False(t, tok.Done.More())

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func concatMsg(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// byteAtATimeReader wraps a reader to return at most one byte per Read
// call, exercising TokenParser/MessageReader against the same kind of
// arbitrarily-fragmented delivery a real socket can produce.
type byteAtATimeReader struct{ r io.Reader }

func (b byteAtATimeReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.r.Read(p[:1])
}

func TestTokenParser_Next_SurvivesByteAtATimeDelivery(t *testing.T) {
	cols := []Column{colIntN("N")}
	var msg bytes.Buffer
	msg.Write(encodeColMetadata(cols))
	msg.Write(encodeRow(cols, []interface{}{int32(42)}))
	msg.Write(encodeDone(DoneFinal, 0, 1))

	p := NewTokenParser(byteAtATimeReader{&msg})

	tok, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, TokColMetadata, tok.Type)

	tok, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, TokRow, tok.Type)
	assert.Equal(t, []interface{}{int64(42)}, tok.Row)

	tok, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, TokDone, tok.Type)
}

// TestTokenParser_NBCRow_MatchesRowWithExplicitNulls verifies Testable
// Property #3: an NBCROW-encoded row decodes to the same logical values as
// the equivalent ROW encoding that marks the same columns NULL explicitly.
func TestTokenParser_NBCRow_MatchesRowWithExplicitNulls(t *testing.T) {
	cols := []Column{colIntN("A"), colIntN("B"), colIntN("C")}
	vals := []interface{}{int32(1), nil, int32(3)}

	rowMsg := concatMsg(encodeColMetadata(cols), encodeRow(cols, vals))
	nbcMsg := concatMsg(encodeColMetadata(cols), encodeNBCRow(cols, vals))

	rowParser := NewTokenParser(bytes.NewReader(rowMsg))
	_, err := rowParser.Next()
	require.NoError(t, err)
	rowTok, err := rowParser.Next()
	require.NoError(t, err)

	nbcParser := NewTokenParser(bytes.NewReader(nbcMsg))
	_, err = nbcParser.Next()
	require.NoError(t, err)
	nbcTok, err := nbcParser.Next()
	require.NoError(t, err)

	assert.Equal(t, rowTok.Row, nbcTok.Row)
	assert.Equal(t, []interface{}{int64(1), nil, int64(3)}, nbcTok.Row)
}

// TestTokenParser_SkipMode_RowAdvancesIdenticallyToDecode verifies that
// skip mode leaves the underlying reader at exactly the same position as
// full decode would, for a mix of fixed-width, variant-nullable, and PLP
// columns — the cancellation drain path (DrainAttentionAck) depends on
// this to stay framed for the tokens that follow.
func TestTokenParser_SkipMode_RowAdvancesIdenticallyToDecode(t *testing.T) {
	cols := []Column{colInt4("ID"), colIntN("N"), colBigVarCharMax("Text")}
	vals := []interface{}{int32(7), int32(9), "hello wire"}

	rowBytes := encodeRow(cols, vals)
	trailer := encodeDone(DoneFinal, 0, 1)
	msg := concatMsg(encodeColMetadata(cols), rowBytes, trailer)

	decodeParser := NewTokenParser(bytes.NewReader(msg))
	_, err := decodeParser.Next()
	require.NoError(t, err)
	_, err = decodeParser.Next()
	require.NoError(t, err)
	doneTok, err := decodeParser.Next()
	require.NoError(t, err)
	require.Equal(t, TokDone, doneTok.Type)

	skipParser := NewTokenParser(bytes.NewReader(msg))
	skipParser.SetSkipMode(true)
	_, err = skipParser.Next()
	require.NoError(t, err)
	rowTok, err := skipParser.Next()
	require.NoError(t, err)
	assert.Nil(t, rowTok.Row)
	doneTok2, err := skipParser.Next()
	require.NoError(t, err)
	require.Equal(t, TokDone, doneTok2.Type)
	assert.Equal(t, doneTok.Done, doneTok2.Done)
}

func TestTokenParser_SkipMode_NBCRowAdvancesIdenticallyToDecode(t *testing.T) {
	cols := []Column{colIntN("A"), colIntN("B")}
	vals := []interface{}{int32(1), nil}

	nbcBytes := encodeNBCRow(cols, vals)
	trailer := encodeDone(DoneFinal, 0, 1)
	msg := concatMsg(encodeColMetadata(cols), nbcBytes, trailer)

	skipParser := NewTokenParser(bytes.NewReader(msg))
	skipParser.SetSkipMode(true)
	_, err := skipParser.Next()
	require.NoError(t, err)
	_, err = skipParser.Next()
	require.NoError(t, err)
	doneTok, err := skipParser.Next()
	require.NoError(t, err)
	assert.Equal(t, TokDone, doneTok.Type)
}
