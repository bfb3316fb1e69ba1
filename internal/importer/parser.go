package importer

// parser.go turns an uploaded file into a restartable, finite sequence of
// raw rows keyed by source column name.
//
// CSV files are streamed through a BOM-skipping, UTF-8-sanitizing reader so
// files larger than memory never get buffered whole. XLSX files go through
// excelize's streaming row iterator. The first row is the header; data rows
// are indexed from 0 and fully empty rows are skipped. NewSource performs
// one counting pass up front so TotalRows is fixed before validation starts;
// every later pass (dry run, commit, resume) calls Rows() for a fresh reader
// over the same sequence.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ParseLimits bounds what a single file may contain.
type ParseLimits struct {
	MaxColumns   int
	MaxCellBytes int
}

// DefaultParseLimits are applied when a limit is unset.
var DefaultParseLimits = ParseLimits{MaxColumns: 256, MaxCellBytes: 32 * 1024}

// RowReader iterates one pass over a file's data rows.
// Next returns io.EOF after the last row.
type RowReader interface {
	Next() (Row, error)
	Close() error
}

// RowSource is a restartable view of one uploaded file.
type RowSource interface {
	Header() []string
	TotalRows() int
	Rows() (RowReader, error)
}

// Opener produces a fresh read stream over the uploaded file.
type Opener func() (io.ReadCloser, error)

type fileSource struct {
	opener    Opener
	xlsx      bool
	limits    ParseLimits
	header    []string
	totalRows int
}

// NewSource builds a RowSource for a spooled upload. It detects the format
// from the filename, reads the header, and counts data rows in one streaming
// pass. A *ParseError is returned for unsupported formats, corrupt files,
// empty files, or rows exceeding the configured limits.
func NewSource(opener Opener, filename string, limits ParseLimits) (RowSource, error) {
	if limits.MaxColumns <= 0 {
		limits.MaxColumns = DefaultParseLimits.MaxColumns
	}
	if limits.MaxCellBytes <= 0 {
		limits.MaxCellBytes = DefaultParseLimits.MaxCellBytes
	}

	src := &fileSource{opener: opener, limits: limits}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
	case ".xlsx":
		src.xlsx = true
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unsupported file format %q", filepath.Ext(filename))}
	}

	// Counting pass: fixes TotalRows and surfaces malformed content before
	// the job is created.
	r, err := src.Rows()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		if _, err := r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		src.totalRows++
	}

	if len(src.header) == 0 {
		return nil, &ParseError{Reason: "file has no header row"}
	}

	return src, nil
}

func (s *fileSource) Header() []string { return s.header }
func (s *fileSource) TotalRows() int   { return s.totalRows }

func (s *fileSource) Rows() (RowReader, error) {
	rc, err := s.opener()
	if err != nil {
		return nil, &ParseError{Reason: "open uploaded file", Err: err}
	}

	if s.xlsx {
		return s.openXLSX(rc)
	}
	return s.openCSV(rc)
}

func (s *fileSource) openCSV(rc io.ReadCloser) (RowReader, error) {
	cr := csv.NewReader(newUTF8Sanitizer(newBOMSkipper(rc)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Reason: "file is empty"}
		}
		return nil, &ParseError{Reason: "read header row", Err: err}
	}
	if err := s.checkLimits(header); err != nil {
		rc.Close()
		return nil, err
	}
	s.setHeader(header)

	return &csvRowReader{src: s, r: cr, closer: rc}, nil
}

func (s *fileSource) openXLSX(rc io.ReadCloser) (RowReader, error) {
	f, err := excelize.OpenReader(rc)
	rc.Close()
	if err != nil {
		return nil, &ParseError{Reason: "open xlsx workbook", Err: err}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &ParseError{Reason: "workbook has no sheets"}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, &ParseError{Reason: "read xlsx rows", Err: err}
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, &ParseError{Reason: "file is empty"}
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, &ParseError{Reason: "read header row", Err: err}
	}
	if err := s.checkLimits(header); err != nil {
		rows.Close()
		f.Close()
		return nil, err
	}
	s.setHeader(header)

	return &xlsxRowReader{src: s, file: f, rows: rows}, nil
}

// setHeader records the header from the first pass; later passes reuse it so
// all readers agree on column names.
func (s *fileSource) setHeader(header []string) {
	if s.header != nil {
		return
	}
	cleaned := make([]string, len(header))
	for i, h := range header {
		cleaned[i] = CleanCell(h)
	}
	s.header = cleaned
}

func (s *fileSource) checkLimits(cells []string) error {
	if len(cells) > s.limits.MaxColumns {
		return &ParseError{Reason: fmt.Sprintf("row has %d columns, limit is %d", len(cells), s.limits.MaxColumns)}
	}
	for _, c := range cells {
		if len(c) > s.limits.MaxCellBytes {
			return &ParseError{Reason: fmt.Sprintf("cell exceeds %d bytes", s.limits.MaxCellBytes)}
		}
	}
	return nil
}

// rowFromCells zips header names with a raw record. Cells beyond the header
// are dropped; missing trailing cells are absent from the map.
func (s *fileSource) rowFromCells(index int, cells []string) Row {
	m := make(map[string]string, len(s.header))
	for i, name := range s.header {
		if i < len(cells) {
			m[name] = cells[i]
		}
	}
	return Row{Index: index, Cells: m}
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type csvRowReader struct {
	src    *fileSource
	r      *csv.Reader
	closer io.Closer
	index  int
}

func (c *csvRowReader) Next() (Row, error) {
	for {
		cells, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Row{}, io.EOF
			}
			return Row{}, &ParseError{Reason: "malformed csv row", Err: err}
		}
		if isEmptyRow(cells) {
			continue
		}
		if err := c.src.checkLimits(cells); err != nil {
			return Row{}, err
		}
		row := c.src.rowFromCells(c.index, cells)
		c.index++
		return row, nil
	}
}

func (c *csvRowReader) Close() error { return c.closer.Close() }

type xlsxRowReader struct {
	src   *fileSource
	file  *excelize.File
	rows  *excelize.Rows
	index int
}

func (x *xlsxRowReader) Next() (Row, error) {
	for x.rows.Next() {
		cells, err := x.rows.Columns()
		if err != nil {
			return Row{}, &ParseError{Reason: "malformed xlsx row", Err: err}
		}
		if isEmptyRow(cells) {
			continue
		}
		if err := x.src.checkLimits(cells); err != nil {
			return Row{}, err
		}
		row := x.src.rowFromCells(x.index, cells)
		x.index++
		return row, nil
	}
	if err := x.rows.Error(); err != nil {
		return Row{}, &ParseError{Reason: "read xlsx rows", Err: err}
	}
	return Row{}, io.EOF
}

func (x *xlsxRowReader) Close() error {
	x.rows.Close()
	return x.file.Close()
}

// bomSkipper removes a UTF-8 byte order mark from the start of the stream.
// Windows tooling routinely prepends one.
type bomSkipper struct {
	r       io.Reader
	checked bool
	buf     []byte
}

func newBOMSkipper(r io.Reader) *bomSkipper { return &bomSkipper{r: r} }

func (b *bomSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head := make([]byte, 3)
		n, err := io.ReadFull(b.r, head)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n > 0 && !(n == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF) {
			b.buf = head[:n]
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}

	if len(b.buf) > 0 {
		n := copy(p, b.buf)
		b.buf = b.buf[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly, keeping
// memory usage constant regardless of file size. Incomplete multi-byte
// sequences at a read boundary are held back until the next read.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if allASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if !atEOF && read+size >= len(data) && incompleteRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		if r == utf8.RuneError && size == 1 {
			// '?' keeps the output the same length as the input, which the
			// in-place rewrite depends on.
			data[write] = '?'
			write++
			read++
		} else {
			copy(data[write:], data[read:read+size])
			write += size
			read += size
		}
	}
	return write
}

func allASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

func incompleteRune(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	switch {
	case b < 0x80:
		return false
	case b < 0xC0:
		return false
	case b < 0xE0:
		return len(data) < 2
	case b < 0xF0:
		return len(data) < 3
	default:
		return len(data) < 4
	}
}
