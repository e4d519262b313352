package normalize

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"maenroll/internal/core"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeText returns a UTF-8 reader over data. CMS extracts are usually
// Latin-1; input that is already valid UTF-8 is passed through untouched.
func DecodeText(data []byte) io.Reader {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return bytes.NewReader(data)
	}
	return charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(data))
}

// ReadText reads a whole, possibly gzip-compressed, text stream and returns
// it decoded to UTF-8. Compression is detected from the magic bytes.
func ReadText(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(gzipMagic))
	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return DecodeText(data), nil
}

// NewCSVReader configures a reader tolerant of CMS quirks: stray quotes and
// ragged rows.
func NewCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// ReadExtract normalizes every record of one extract into rows for period.
// A schema without the mandatory columns fails the whole extract.
func ReadExtract(r io.Reader, period core.PeriodKey, source string) ([]core.Row, error) {
	text, err := ReadText(r)
	if err != nil {
		return nil, err
	}
	cr := NewCSVReader(text)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &core.MalformedRowError{Period: period, Source: source, Missing: RequiredColumns}
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", source, err)
	}
	h, err := NewHeader(header, period, source)
	if err != nil {
		return nil, err
	}

	var rows []core.Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		if blank(record) {
			continue
		}
		rows = append(rows, h.Row(record, period))
	}
	return rows, nil
}

// ReadExtractFile is ReadExtract over a file on disk.
func ReadExtractFile(path string, period core.PeriodKey) ([]core.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract: %w", err)
	}
	defer f.Close()
	return ReadExtract(f, period, filepath.Base(path))
}

func blank(record []string) bool {
	for _, v := range record {
		if Clean(v) != "" {
			return false
		}
	}
	return true
}
