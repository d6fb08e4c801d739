package table

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/strataflow/strataflow/pkg/codec"
	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// ErrBadRow reports a data row whose numeric columns cannot be parsed.
// Scanners surface it per row; readers decide whether to skip or abort.
var ErrBadRow = errors.New("unparseable table row")

// Row is one data row of the output table as the analytics engine sees it:
// the stratum label plus the numeric aggregate columns.
type Row struct {
	Label    string
	Quantity float64
	Value    float64
}

// Scanner streams data rows of an output table in original row order.
type Scanner struct {
	f        *os.File
	r        *csv.Reader
	labelIdx int
	qtyIdx   int
	valIdx   int
	rows     int64
}

// OpenScanner opens the table at path and consumes its header row. A
// missing or header-less file is a file error; column positions are taken
// from the header so tables written with reordered columns still scan.
func OpenScanner(path string, sep rune) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "open output table").
			WithDetail("path", path)
	}

	r := csv.NewReader(f)
	r.Comma = sep
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "read table header").
			WithDetail("path", path)
	}

	s := &Scanner{f: f, r: r, labelIdx: -1, qtyIdx: -1, valIdx: -1}
	for i, name := range header {
		switch name {
		case codec.Columns[4]:
			s.labelIdx = i
		case codec.Columns[2]:
			s.qtyIdx = i
		case codec.Columns[3]:
			s.valIdx = i
		}
	}
	if s.labelIdx < 0 || s.qtyIdx < 0 || s.valIdx < 0 {
		f.Close()
		return nil, flowerrors.New(flowerrors.ErrorTypeFile, "table header missing required columns").
			WithDetail("path", path).WithDetail("header", append([]string(nil), header...))
	}
	return s, nil
}

// Next returns the next data row. It returns io.EOF at end of table and
// ErrBadRow (wrapped) for a row whose numeric columns do not parse; the
// scanner remains usable after a bad row.
func (s *Scanner) Next() (Row, error) {
	rec, err := s.r.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, flowerrors.Wrap(err, flowerrors.ErrorTypeData, "read table row")
	}
	s.rows++

	max := s.labelIdx
	if s.qtyIdx > max {
		max = s.qtyIdx
	}
	if s.valIdx > max {
		max = s.valIdx
	}
	if len(rec) <= max {
		return Row{}, flowerrors.Wrap(ErrBadRow, flowerrors.ErrorTypeData, "short table row").
			WithDetail("row", s.rows)
	}

	qty, qerr := strconv.ParseFloat(rec[s.qtyIdx], 64)
	val, verr := strconv.ParseFloat(rec[s.valIdx], 64)
	if qerr != nil || verr != nil {
		return Row{}, flowerrors.Wrap(ErrBadRow, flowerrors.ErrorTypeData, "non-numeric aggregate column").
			WithDetail("row", s.rows)
	}

	return Row{Label: rec[s.labelIdx], Quantity: qty, Value: val}, nil
}

// Rows returns the number of data rows read so far.
func (s *Scanner) Rows() int64 { return s.rows }

// Close releases the table file.
func (s *Scanner) Close() error { return s.f.Close() }

// CountLabels performs the analytics first pass: it scans only the label
// column and returns the population count per distinct label plus the
// grand total row count. Unparseable rows still count toward their label
// when the label column is readable; rows with no readable label are
// skipped.
func CountLabels(path string, sep rune) (map[string]int64, int64, error) {
	s, err := OpenScanner(path, sep)
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()

	counts := make(map[string]int64)
	var total int64
	for {
		rec, err := s.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "scan label column").
				WithDetail("path", path)
		}
		if len(rec) <= s.labelIdx {
			continue
		}
		counts[rec[s.labelIdx]]++
		total++
	}
	return counts, total, nil
}
