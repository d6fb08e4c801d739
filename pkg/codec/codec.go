package codec

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode failure reasons. These are values, not exceptions: a failed record
// produces no Record and the caller aggregates the failure into counters.
var (
	// ErrBadLength reports input that is not exactly one stride long.
	ErrBadLength = errors.New("record length does not match stride")
	// ErrBadEncoding reports a record whose label bytes are not valid
	// UTF-8 after padding is trimmed; the bytes cannot be rendered as a
	// table cell without corruption.
	ErrBadEncoding = errors.New("record label is not valid UTF-8")
)

// Record is the decoded form of one binary record. The label is sanitized
// before it leaves the codec: values that a spreadsheet would interpret as
// a formula trigger carry a leading escape marker.
type Record struct {
	ID        uint64
	Timestamp uint64
	Quantity  uint64
	// Value is the monetary amount, converted from integer minor units
	// on the wire by dividing by 100.
	Value float64
	Label string
}

// Row renders the record as output table columns, in Columns order.
func (r Record) Row() []string {
	return []string{
		strconv.FormatUint(r.ID, 10),
		strconv.FormatUint(r.Timestamp, 10),
		strconv.FormatUint(r.Quantity, 10),
		strconv.FormatFloat(r.Value, 'f', 2, 64),
		r.Label,
	}
}

// Codec decodes fixed-stride binary records according to a Layout.
type Codec struct {
	layout *Layout
}

// New creates a codec for the given layout.
func New(layout *Layout) *Codec {
	return &Codec{layout: layout}
}

// Layout returns the codec's record layout.
func (c *Codec) Layout() *Layout { return c.layout }

// Decode converts exactly one stride of bytes into a Record. Any other
// input length is ErrBadLength. Integer fields are little-endian; the label
// is trimmed of trailing NUL/space padding, rejected with ErrBadEncoding
// when the remaining bytes are not valid UTF-8, and passed through the
// formula-escape guard. A blank label is kept: such records are valid and
// aggregate under the empty stratum.
func (c *Codec) Decode(b []byte) (Record, error) {
	if len(b) != c.layout.stride {
		return Record{}, ErrBadLength
	}

	var rec Record
	off := 0
	for i, f := range c.layout.fields {
		raw := b[off : off+f.Size]
		off += f.Size

		switch i {
		case 0:
			rec.ID = leUint(raw)
		case 1:
			rec.Timestamp = leUint(raw)
		case 2:
			rec.Quantity = leUint(raw)
		case 3:
			rec.Value = float64(leInt(raw)) / 100.0
		case 4:
			label := strings.TrimRight(string(raw), "\x00 ")
			label = strings.TrimSpace(label)
			if !utf8.ValidString(label) {
				return Record{}, ErrBadEncoding
			}
			rec.Label = EscapeFormula(label)
		}
	}
	return rec, nil
}

// DecodeBatch decodes every contiguous stride-sized window in buf. Records
// that fail to decode are skipped and counted in rejected; a failure never
// aborts the batch and a record is never partially decoded. Trailing bytes
// shorter than one stride are ignored (the chunked reader guarantees there
// are none).
func (c *Codec) DecodeBatch(buf []byte) (records []Record, rejected int) {
	stride := c.layout.stride
	n := len(buf) / stride
	records = make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := c.Decode(buf[i*stride : (i+1)*stride])
		if err != nil {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

// EscapeFormula guards a value against CSV/spreadsheet formula injection.
// A value beginning with '=', '+', '-' or '@' is prefixed with a single
// quote so it can never execute as a formula in downstream tools.
func EscapeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}

// leUint reads a little-endian unsigned integer of 1, 2, 4 or 8 bytes.
func leUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// leInt reads a little-endian signed integer, sign-extending to 64 bits.
func leInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}
