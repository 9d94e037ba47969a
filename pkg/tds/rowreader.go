package tds

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// discard reads and throws away exactly n bytes, used by SkipValue to
// advance the stream past a column's body without allocating or decoding
// it. Unlike io.CopyN(io.Discard, r, n) this reuses a small stack buffer
// for the common case instead of letting io.Discard pick its own.
func discard(r io.Reader, n int) error {
	var buf [512]byte
	for n > 0 {
		k := len(buf)
		if n < k {
			k = n
		}
		if _, err := io.ReadFull(r, buf[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// timeByteWidth returns the wire byte width of a TIMEN/DATETIME2N time
// component at the given fractional-seconds scale.
func timeByteWidth(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// ReadValue decodes one column value from r per col's declared type,
// returning nil for SQL NULL. Values are returned as the closest Go
// representation: int64, float64, bool, string, []byte, time.Time,
// time.Duration, decimal.Decimal, or uuid.UUID.
func ReadValue(r io.Reader, col Column) (interface{}, error) {
	switch col.Type {

	case TypeInt1:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int64(b[0]), nil

	case TypeBit:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil

	case TypeInt2:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b[:]))), nil

	case TypeInt4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b[:]))), nil

	case TypeInt8:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b[:])), nil

	case TypeFloat4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint32(b[:])
		return float64(math.Float32frombits(bits)), nil

	case TypeFloat8:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint64(b[:])
		return math.Float64frombits(bits), nil

	case TypeMoney:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return DecodeMoney(b[:]), nil

	case TypeMoney4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return DecodeMoney(b[:]), nil

	case TypeDateTime:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		days := int32(binary.LittleEndian.Uint32(b[0:4]))
		ticks := int32(binary.LittleEndian.Uint32(b[4:8]))
		return DecodeDateTime(days, ticks), nil

	case TypeDateTime4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		days := binary.LittleEndian.Uint16(b[0:2])
		minutes := binary.LittleEndian.Uint16(b[2:4])
		return DecodeSmallDateTime(days, minutes), nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN, TypeGUID,
		TypeDecimalN, TypeNumericN, TypeDateN, TypeTimeN, TypeDateTime2N,
		TypeDateTimeOffsetN:
		return readVariantNullable(r, col)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, err
		}
		n := int(lb[0])
		if n == 0 {
			return []byte{}, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if col.Type == TypeChar || col.Type == TypeVarChar {
			return string(data), nil
		}
		return data, nil

	case TypeBigVarChar, TypeBigChar:
		if col.Length == PLPLenMax {
			raw, err := readPLP(r)
			if err != nil || raw == nil {
				return nil, err
			}
			return string(raw), nil
		}
		return readLen16String(r, false)

	case TypeNVarChar, TypeNChar:
		if col.Length == PLPLenMax {
			raw, err := readPLP(r)
			if err != nil || raw == nil {
				return nil, err
			}
			return ucs2ToString(raw), nil
		}
		return readLen16String(r, true)

	case TypeBigVarBin, TypeBigBinary:
		if col.Length == PLPLenMax {
			return readPLP(r)
		}
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if n == 0xFFFF {
			return nil, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		return data, nil

	case TypeXML:
		raw, err := readPLP(r)
		if err != nil || raw == nil {
			return nil, err
		}
		return ucs2ToString(raw), nil

	case TypeText, TypeNText, TypeImage:
		return readLegacyLOB(r, col)

	default:
		return nil, fmt.Errorf("tds: unsupported column type %s", col.Type)
	}
}

// SkipValue advances r past one column value without decoding it, per
// col's declared type. It is the measure-only counterpart to ReadValue,
// used to discard buffered ROW/NBCROW bodies at wire speed during an
// attention drain instead of paying for full decode of data nobody reads.
func SkipValue(r io.Reader, col Column) error {
	switch col.Type {

	case TypeInt1, TypeBit:
		return discard(r, 1)

	case TypeInt2:
		return discard(r, 2)

	case TypeInt4, TypeFloat4, TypeMoney4, TypeDateTime4:
		return discard(r, 4)

	case TypeInt8, TypeFloat8, TypeMoney, TypeDateTime:
		return discard(r, 8)

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN, TypeGUID,
		TypeDecimalN, TypeNumericN, TypeDateN, TypeTimeN, TypeDateTime2N,
		TypeDateTimeOffsetN:
		return skipVariantNullable(r)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		return discard(r, int(lb[0]))

	case TypeBigVarChar, TypeBigChar, TypeNVarChar, TypeNChar:
		if col.Length == PLPLenMax {
			return skipPLP(r)
		}
		return skipLen16String(r)

	case TypeBigVarBin, TypeBigBinary:
		if col.Length == PLPLenMax {
			return skipPLP(r)
		}
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if n == 0xFFFF {
			return nil
		}
		return discard(r, int(n))

	case TypeXML:
		return skipPLP(r)

	case TypeText, TypeNText, TypeImage:
		return skipLegacyLOB(r)

	default:
		return fmt.Errorf("tds: unsupported column type %s", col.Type)
	}
}

// skipVariantNullable discards one *N-type value: a 1-byte length prefix
// (0 means SQL NULL) followed by that many bytes, regardless of which *N
// type it is — unlike readVariantNullable, skipping never needs to
// interpret the payload.
func skipVariantNullable(r io.Reader) error {
	var lb [1]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return err
	}
	return discard(r, int(lb[0]))
}

func skipLen16String(r io.Reader) error {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	if n == 0xFFFF {
		return nil
	}
	return discard(r, int(n))
}

func skipLegacyLOB(r io.Reader) error {
	var tpLen [1]byte
	if _, err := io.ReadFull(r, tpLen[:]); err != nil {
		return err
	}
	if tpLen[0] == 0 {
		return nil
	}
	if err := discard(r, int(tpLen[0])+8); err != nil {
		return err
	}
	var dl [4]byte
	if _, err := io.ReadFull(r, dl[:]); err != nil {
		return err
	}
	return discard(r, int(binary.LittleEndian.Uint32(dl[:])))
}

// readVariantNullable handles every *N type, each of which is prefixed by
// a single length byte where 0 means SQL NULL.
func readVariantNullable(r io.Reader, col Column) (interface{}, error) {
	var lb [1]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := int(lb[0])
	if n == 0 {
		return nil, nil
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	switch col.Type {
	case TypeIntN:
		switch n {
		case 1:
			return int64(data[0]), nil
		case 2:
			return int64(int16(binary.LittleEndian.Uint16(data))), nil
		case 4:
			return int64(int32(binary.LittleEndian.Uint32(data))), nil
		case 8:
			return int64(binary.LittleEndian.Uint64(data)), nil
		}
	case TypeBitN:
		return data[0] != 0, nil
	case TypeFloatN:
		if n == 4 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case TypeMoneyN:
		return DecodeMoney(data), nil
	case TypeDateTimeN:
		if n == 4 {
			days := binary.LittleEndian.Uint16(data[0:2])
			minutes := binary.LittleEndian.Uint16(data[2:4])
			return DecodeSmallDateTime(days, minutes), nil
		}
		days := int32(binary.LittleEndian.Uint32(data[0:4]))
		ticks := int32(binary.LittleEndian.Uint32(data[4:8]))
		return DecodeDateTime(days, ticks), nil
	case TypeGUID:
		return DecodeGUID(data), nil
	case TypeDecimalN, TypeNumericN:
		return DecodeDecimal(data, col.Scale), nil
	case TypeDateN:
		return DecodeDate(data), nil
	case TypeTimeN:
		return DecodeTime(data, col.Scale), nil
	case TypeDateTime2N:
		width := timeByteWidth(col.Scale)
		return DecodeDateTime2(data[:width], data[width:], col.Scale), nil
	case TypeDateTimeOffsetN:
		width := timeByteWidth(col.Scale)
		timeRaw := data[:width]
		dateRaw := data[width : width+3]
		offsetRaw := data[width+3:]
		offsetMin := int16(binary.LittleEndian.Uint16(offsetRaw))
		return DecodeDateTimeOffset(timeRaw, dateRaw, offsetMin, col.Scale), nil
	}
	return nil, fmt.Errorf("tds: unhandled nullable variant type %s", col.Type)
}

func readLen16String(r io.Reader, wide bool) (interface{}, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	if n == 0xFFFF {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	if wide {
		return ucs2ToString(data), nil
	}
	return string(data), nil
}

// readLegacyLOB decodes the pre-PLP TEXT/NTEXT/IMAGE row format: a 1-byte
// "textptr" length (0 means NULL), the textptr bytes themselves, an
// 8-byte timestamp, then a 4-byte data length and the data.
func readLegacyLOB(r io.Reader, col Column) (interface{}, error) {
	var tpLen [1]byte
	if _, err := io.ReadFull(r, tpLen[:]); err != nil {
		return nil, err
	}
	if tpLen[0] == 0 {
		return nil, nil
	}

	skip := make([]byte, int(tpLen[0])+8) // textptr + timestamp
	if _, err := io.ReadFull(r, skip); err != nil {
		return nil, err
	}

	var dl [4]byte
	if _, err := io.ReadFull(r, dl[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(dl[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	if col.Type == TypeNText {
		return ucs2ToString(data), nil
	}
	if col.Type == TypeImage {
		return data, nil
	}
	return string(data), nil
}
