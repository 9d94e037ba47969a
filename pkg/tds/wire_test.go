package tds

import (
	"bytes"
	"encoding/binary"
)

// wire_test.go holds shared byte-builders used by tokenparser_test.go and
// attention_test.go to construct minimal, hand-rolled TDS response
// messages — the fake-responder counterpart to the teacher's
// protocol/tds/client_test.go, which stands up a real listener instead of
// hand-built bytes because its client is an off-the-shelf driver. This
// module IS the client, so the fake side is the wire bytes themselves.

func colInt4(name string) Column { return Column{Name: name, Type: TypeInt4} }

func colIntN(name string) Column { return Column{Name: name, Type: TypeIntN, Length: 4} }

func colBigVarCharMax(name string) Column {
	return Column{Name: name, Type: TypeBigVarChar, Length: PLPLenMax, Collation: DefaultCollation}
}

func colNVarChar(name string, length uint32) Column {
	return Column{Name: name, Type: TypeNVarChar, Length: length, Collation: DefaultCollation}
}

func colGUID(name string) Column { return Column{Name: name, Type: TypeGUID, Length: 16} }

func encodeColMetadata(cols []Column) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TokenColMetadata))
	var cb [2]byte
	binary.LittleEndian.PutUint16(cb[:], uint16(len(cols)))
	buf.Write(cb[:])

	for _, col := range cols {
		var ut [4]byte
		binary.LittleEndian.PutUint32(ut[:], col.UserType)
		buf.Write(ut[:])

		var fl [2]byte
		binary.LittleEndian.PutUint16(fl[:], col.Flags)
		buf.Write(fl[:])

		buf.WriteByte(byte(col.Type))
		switch col.Type {
		case TypeInt4, TypeBit:
			// fixed length, no TYPE_INFO beyond the type byte.
		case TypeIntN:
			buf.WriteByte(byte(col.Length))
		case TypeGUID:
			buf.WriteByte(byte(col.Length))
		case TypeBigVarChar, TypeBigChar:
			var lb [2]byte
			if col.Length == PLPLenMax {
				binary.LittleEndian.PutUint16(lb[:], 0xFFFF)
			} else {
				binary.LittleEndian.PutUint16(lb[:], uint16(col.Length))
			}
			buf.Write(lb[:])
			buf.Write(col.Collation)
		case TypeNVarChar, TypeNChar:
			var lb [2]byte
			if col.Length == PLPLenMax {
				binary.LittleEndian.PutUint16(lb[:], 0xFFFF)
			} else {
				binary.LittleEndian.PutUint16(lb[:], uint16(col.Length))
			}
			buf.Write(lb[:])
			buf.Write(col.Collation)
		default:
			panic("wire_test: unsupported column type in test builder")
		}

		buf.WriteByte(byte(len([]rune(col.Name))))
		buf.Write(EncodeUCS2(col.Name))
	}
	return buf.Bytes()
}

// encodeRowValue encodes one value onto buf per col's wire type, mirroring
// ReadValue's expected layout. v == nil means SQL NULL (only meaningful for
// nullable wire shapes).
func encodeRowValue(buf *bytes.Buffer, col Column, v interface{}) {
	switch col.Type {
	case TypeInt4:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		buf.Write(b[:])

	case TypeIntN:
		if v == nil {
			buf.WriteByte(0)
			return
		}
		buf.WriteByte(4)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		buf.Write(b[:])

	case TypeGUID:
		if v == nil {
			buf.WriteByte(0)
			return
		}
		raw := v.([]byte)
		buf.WriteByte(byte(len(raw)))
		buf.Write(raw)

	case TypeBigVarChar:
		if col.Length == PLPLenMax {
			if v == nil {
				var lb [8]byte
				binary.LittleEndian.PutUint64(lb[:], PLPNull)
				buf.Write(lb[:])
				return
			}
			s := v.(string)
			buf.Write(encodePLP(false, []byte(s)))
			return
		}
		panic("wire_test: non-PLP BigVarChar not supported by builder")

	case TypeNVarChar:
		if col.Length == PLPLenMax {
			if v == nil {
				var lb [8]byte
				binary.LittleEndian.PutUint64(lb[:], PLPNull)
				buf.Write(lb[:])
				return
			}
			buf.Write(encodePLP(false, EncodeUCS2(v.(string))))
			return
		}
		if v == nil {
			var lb [2]byte
			binary.LittleEndian.PutUint16(lb[:], 0xFFFF)
			buf.Write(lb[:])
			return
		}
		data := EncodeUCS2(v.(string))
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(data)))
		buf.Write(lb[:])
		buf.Write(data)

	default:
		panic("wire_test: unsupported column type in row value builder")
	}
}

func encodeRow(cols []Column, vals []interface{}) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TokenRow))
	for i, col := range cols {
		encodeRowValue(&buf, col, vals[i])
	}
	return buf.Bytes()
}

func encodeNBCRow(cols []Column, vals []interface{}) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TokenNBCRow))
	bitmap := make([]byte, NullBitmapSize(len(cols)))
	for i, v := range vals {
		if v == nil {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	buf.Write(bitmap)
	for i, col := range cols {
		if vals[i] == nil {
			continue
		}
		encodeRowValue(&buf, col, vals[i])
	}
	return buf.Bytes()
}

func encodeDone(status, curCmd uint16, rowCount uint64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TokenDone))
	var s, c [2]byte
	binary.LittleEndian.PutUint16(s[:], status)
	binary.LittleEndian.PutUint16(c[:], curCmd)
	buf.Write(s[:])
	buf.Write(c[:])
	var rc [8]byte
	binary.LittleEndian.PutUint64(rc[:], rowCount)
	buf.Write(rc[:])
	return buf.Bytes()
}
