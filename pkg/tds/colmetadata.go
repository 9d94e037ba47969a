package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadColMetadata decodes a COLMETADATA token body (the token type byte
// has already been consumed by the caller) into the result set's column
// descriptors.
func ReadColMetadata(r io.Reader) ([]Column, error) {
	var cb [2]byte
	if _, err := io.ReadFull(r, cb[:]); err != nil {
		return nil, fmt.Errorf("tds: reading column count: %w", err)
	}
	count := binary.LittleEndian.Uint16(cb[:])
	if count == 0xFFFF {
		// NoMetaData sentinel: the result set carries no columns.
		return nil, nil
	}

	cols := make([]Column, count)
	for i := range cols {
		col, err := readOneColumn(r)
		if err != nil {
			return nil, fmt.Errorf("tds: column %d: %w", i, err)
		}
		cols[i] = col
	}
	return cols, nil
}

func readOneColumn(r io.Reader) (Column, error) {
	var col Column

	var userType [4]byte
	if _, err := io.ReadFull(r, userType[:]); err != nil {
		return col, err
	}
	col.UserType = binary.LittleEndian.Uint32(userType[:])

	var flags [2]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return col, err
	}
	col.Flags = binary.LittleEndian.Uint16(flags[:])
	col.Nullable = col.Flags&ColFlagNullable != 0

	if err := readTypeInfo(r, &col); err != nil {
		return col, err
	}

	var nameLen [1]byte
	if _, err := io.ReadFull(r, nameLen[:]); err != nil {
		return col, err
	}
	if nameLen[0] > 0 {
		nameBytes := make([]byte, int(nameLen[0])*2)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return col, err
		}
		col.Name = ucs2ToString(nameBytes)
	}

	return col, nil
}

func readTypeInfo(r io.Reader, col *Column) error {
	var tb [1]byte
	if _, err := io.ReadFull(r, tb[:]); err != nil {
		return err
	}
	col.Type = SQLType(tb[0])

	switch col.Type {
	case TypeNull,
		TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4,
		TypeDateTime, TypeDateTime4:
		// Fixed length: no further TYPE_INFO.
		return nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		col.Length = uint32(lb[0])
		return nil

	case TypeDateN:
		return nil

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		var sb [1]byte
		if _, err := io.ReadFull(r, sb[:]); err != nil {
			return err
		}
		col.Scale = sb[0]
		return nil

	case TypeDecimalN, TypeNumericN:
		var b [3]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		col.Length = uint32(b[0])
		col.Precision = b[1]
		col.Scale = b[2]
		return nil

	case TypeGUID:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		col.Length = uint32(lb[0])
		return nil

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		col.Length = uint32(lb[0])
		if col.Type == TypeChar || col.Type == TypeVarChar {
			return readCollation(r, col)
		}
		return nil

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if n == 0xFFFF {
			col.Length = PLPLenMax
		} else {
			col.Length = uint32(n)
		}
		if col.Type == TypeBigVarChar || col.Type == TypeBigChar {
			return readCollation(r, col)
		}
		return nil

	case TypeNVarChar, TypeNChar:
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if n == 0xFFFF {
			col.Length = PLPLenMax
		} else {
			col.Length = uint32(n)
		}
		return readCollation(r, col)

	case TypeXML:
		// XMLSCHEMACOLLECTION flag byte: 0 = no schema bound.
		var sb [1]byte
		if _, err := io.ReadFull(r, sb[:]); err != nil {
			return err
		}
		if sb[0] != 0 {
			return fmt.Errorf("tds: XML schema collections are not supported")
		}
		col.Length = PLPLenMax
		return nil

	case TypeText, TypeNText, TypeImage:
		var lb [4]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return err
		}
		col.Length = binary.LittleEndian.Uint32(lb[:])
		if col.Type != TypeImage {
			if err := readCollation(r, col); err != nil {
				return err
			}
		}
		var numParts [1]byte
		if _, err := io.ReadFull(r, numParts[:]); err != nil {
			return err
		}
		for i := 0; i < int(numParts[0]); i++ {
			var partLen [2]byte
			if _, err := io.ReadFull(r, partLen[:]); err != nil {
				return err
			}
			n := binary.LittleEndian.Uint16(partLen[:])
			part := make([]byte, int(n)*2)
			if _, err := io.ReadFull(r, part); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("tds: unsupported column type 0x%02X", uint8(col.Type))
	}
}

func readCollation(r io.Reader, col *Column) error {
	collation := make([]byte, 5)
	if _, err := io.ReadFull(r, collation); err != nil {
		return err
	}
	col.Collation = collation
	return nil
}

// DefaultCollation is Latin1_General_CI_AS, used when building LOGIN7 or
// ad-hoc metadata that needs a plausible collation rather than echoing the
// server's actual one.
var DefaultCollation = []byte{0x09, 0x04, 0xD0, 0x00, 0x34}
