// Package codec implements the fixed-stride binary record codec.
//
// A record layout is described by a compact descriptor in the style of
// struct format strings: a leading "<" (little-endian, the only supported
// byte order) followed by field codes. Integer codes are B/H/I/Q for
// unsigned and b/h/i/q for signed widths of 1/2/4/8 bytes; "Ns" is a
// fixed-length N-byte string. The default layout "<IQIq32s" describes the
// canonical sales record: id, timestamp, quantity, value in minor units,
// and a 32-byte product label, for a stride of 56 bytes.
package codec

import (
	"strconv"
	"strings"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// FieldKind classifies a layout field.
type FieldKind int

const (
	// KindUint is an unsigned little-endian integer.
	KindUint FieldKind = iota
	// KindInt is a signed little-endian integer.
	KindInt
	// KindBytes is a fixed-length byte string.
	KindBytes
)

// Field is one typed slot in a record layout.
type Field struct {
	Kind FieldKind
	// Size is the field width in bytes.
	Size int
}

// Layout is a fixed-width binary record schema. The stride is the exact
// byte length used to cut a file into records; every chunk handed to a
// worker is a whole multiple of it.
type Layout struct {
	descriptor string
	fields     []Field
	stride     int
}

// Columns are the output table header, in field order.
var Columns = []string{"id", "timestamp", "quantity", "value", "product"}

// ParseLayout resolves a descriptor string into a Layout. The layout must
// describe the canonical record shape: three unsigned integers (id,
// timestamp, quantity), one signed integer (value in minor units), and a
// trailing byte string (product label).
func ParseLayout(descriptor string) (*Layout, error) {
	s := descriptor
	if !strings.HasPrefix(s, "<") {
		return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"layout %q: only little-endian layouts (leading '<') are supported", descriptor)
	}
	s = s[1:]

	var fields []Field
	stride := 0
	for len(s) > 0 {
		// Optional repeat/size count before the code.
		n := 0
		digits := 0
		for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
			n = n*10 + int(s[digits]-'0')
			digits++
		}
		if digits == len(s) {
			return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
				"layout %q: trailing count with no field code", descriptor)
		}
		code := s[digits]
		s = s[digits+1:]

		switch code {
		case 's':
			if digits == 0 || n == 0 {
				return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
					"layout %q: string field requires a positive length", descriptor)
			}
			fields = append(fields, Field{Kind: KindBytes, Size: n})
			stride += n
		case 'B', 'H', 'I', 'Q', 'b', 'h', 'i', 'q':
			width := intWidth(code)
			repeat := 1
			if digits > 0 {
				repeat = n
			}
			kind := KindUint
			if code >= 'a' {
				kind = KindInt
			}
			for r := 0; r < repeat; r++ {
				fields = append(fields, Field{Kind: kind, Size: width})
				stride += width
			}
		default:
			return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
				"layout %q: unknown field code %q", descriptor, string(code))
		}
	}

	l := &Layout{descriptor: descriptor, fields: fields, stride: stride}
	if err := l.checkCanonical(); err != nil {
		return nil, err
	}
	return l, nil
}

// checkCanonical enforces the record shape the rest of the system assumes.
func (l *Layout) checkCanonical() error {
	if l.stride <= 0 {
		return flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"layout %q: stride must be positive", l.descriptor)
	}
	if len(l.fields) != len(Columns) {
		return flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"layout %q: expected %d fields (id, timestamp, quantity, value, product), got %d",
			l.descriptor, len(Columns), len(l.fields))
	}
	for i := 0; i < 3; i++ {
		if l.fields[i].Kind != KindUint {
			return flowerrors.Newf(flowerrors.ErrorTypeValidation,
				"layout %q: field %s must be an unsigned integer", l.descriptor, Columns[i])
		}
	}
	if l.fields[3].Kind != KindInt {
		return flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"layout %q: field value must be a signed integer", l.descriptor)
	}
	if l.fields[4].Kind != KindBytes {
		return flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"layout %q: field product must be a fixed-length byte string", l.descriptor)
	}
	return nil
}

// Stride returns the record size in bytes.
func (l *Layout) Stride() int { return l.stride }

// Descriptor returns the descriptor string the layout was parsed from.
func (l *Layout) Descriptor() string { return l.descriptor }

// Fields returns the ordered field list.
func (l *Layout) Fields() []Field { return l.fields }

// String implements fmt.Stringer.
func (l *Layout) String() string {
	return l.descriptor + " (stride " + strconv.Itoa(l.stride) + ")"
}

func intWidth(code byte) int {
	switch code {
	case 'B', 'b':
		return 1
	case 'H', 'h':
		return 2
	case 'I', 'i':
		return 4
	default: // Q, q
		return 8
	}
}
