// Package manifest reads the tabular metadata file accompanying a batch
// archive and yields normalized invoice records. The reader is lazy,
// single-pass and not restartable; parsing again requires a fresh Open.
package manifest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
)

// rowSource abstracts the underlying tabular format. next returns io.EOF
// once exhausted.
type rowSource interface {
	next() ([]string, error)
	close() error
}

// Reader yields one InvoiceRecord per data row. Rows missing required fields
// are NOT rejected here; absence surfaces later as a composition failure so
// one bad row never aborts the whole manifest read.
type Reader struct {
	src rowSource
	// header maps a lowercased column name to its index.
	header map[string]int
}

// Open opens a manifest file, picking the parser from the extension:
// .xlsx goes through excelize, everything else is treated as delimited text
// (comma or semicolon, sniffed from the header row).
func Open(path string) (*Reader, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return openXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader parses delimited text from r. If r is an io.Closer it is closed
// together with the Reader.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	delim, err := sniffDelimiter(br)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1 // tolerate ragged rows
	cr.TrimLeadingSpace = true

	src := &csvSource{r: cr}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return newReader(src)
}

func newReader(src rowSource) (*Reader, error) {
	head, err := src.next()
	if err != nil {
		src.close()
		if err == io.EOF {
			return nil, fmt.Errorf("parse manifest: %w: empty file", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("parse manifest header: %w", err)
	}
	header := make(map[string]int, len(head))
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name == "" {
			continue
		}
		if _, dup := header[name]; !dup {
			header[name] = i
		}
	}
	return &Reader{src: src, header: header}, nil
}

// Next returns the next record, or io.EOF when the manifest is exhausted.
func (r *Reader) Next() (*model.InvoiceRecord, error) {
	row, err := r.src.next()
	if err != nil {
		return nil, err
	}
	rec := &model.InvoiceRecord{}
	for _, spec := range fieldSpecs {
		for _, alias := range spec.aliases {
			idx, ok := r.header[alias]
			if !ok || idx >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[idx]); v != "" {
				spec.assign(rec, v)
				break
			}
		}
	}
	applyDefaults(rec)
	return rec, nil
}

func (r *Reader) Close() error { return r.src.close() }

// ReadAll drains the manifest into memory, failing with ErrManifestTooLarge
// once the row count exceeds the batch ceiling.
func ReadAll(path string) ([]*model.InvoiceRecord, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []*model.InvoiceRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse manifest row %d: %w", len(out)+2, err)
		}
		out = append(out, rec)
		if len(out) > model.MaxBatchItems {
			return nil, domain.ErrManifestTooLarge
		}
	}
}

// sniffDelimiter peeks at the header row and picks ';' when it separates
// more columns than ','. Defaults to comma.
func sniffDelimiter(br *bufio.Reader) (rune, error) {
	line, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, fmt.Errorf("read manifest header: %w", err)
	}
	if i := strings.IndexByte(string(line), '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(string(line), ";") > strings.Count(string(line), ",") {
		return ';', nil
	}
	return ',', nil
}

type csvSource struct {
	r      *csv.Reader
	closer io.Closer
}

func (s *csvSource) next() ([]string, error) { return s.r.Read() }

func (s *csvSource) close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func openXLSX(path string) (*Reader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx manifest: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("parse manifest: %w: workbook has no sheets", domain.ErrInvalidArgument)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read xlsx manifest: %w", err)
	}
	return newReader(&xlsxSource{f: f, rows: rows})
}

type xlsxSource struct {
	f    *excelize.File
	rows *excelize.Rows
}

func (s *xlsxSource) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *xlsxSource) close() error {
	s.rows.Close()
	return s.f.Close()
}
