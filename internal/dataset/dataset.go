// Package dataset reads and writes the persisted combined dataset: one flat
// CSV table with a leading report_period column, gzip-compressed when the
// file name ends in ".gz".
package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"maenroll/internal/core"
	"maenroll/internal/normalize"
)

// ColReportPeriod is the column added in front of the extract columns.
const ColReportPeriod = "report_period"

// Columns is the persisted column order.
var Columns = []string{
	ColReportPeriod,
	normalize.ColContractID,
	normalize.ColOrganizationName,
	normalize.ColOrganizationType,
	normalize.ColPlanType,
	normalize.ColState,
	normalize.ColCounty,
	normalize.ColEnrolled,
}

// Encode writes dataset as CSV. Periods are written in ascending order and
// rows keep their order within a period, so encoding the same dataset
// twice produces identical bytes.
func Encode(w io.Writer, dataset map[core.PeriodKey][]core.Row) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}
	timeline := make([]core.PeriodKey, 0, len(dataset))
	for p := range dataset {
		timeline = append(timeline, p)
	}
	n := 0
	record := make([]string, len(Columns))
	for _, p := range core.SortPeriods(timeline) {
		for _, r := range dataset[p] {
			record[0] = string(p)
			record[1] = r.ContractID
			record[2] = r.OrganizationName
			record[3] = r.OrganizationType
			record[4] = r.PlanType
			record[5] = r.State
			record[6] = r.County
			record[7] = strconv.FormatInt(r.Enrolled, 10)
			if err := cw.Write(record); err != nil {
				return n, err
			}
			n++
		}
	}
	cw.Flush()
	return n, cw.Error()
}

// Decode reads a persisted dataset. Input may be gzip-compressed and
// Latin-1 or UTF-8 encoded.
func Decode(r io.Reader) (map[core.PeriodKey][]core.Row, error) {
	text, err := normalize.ReadText(r)
	if err != nil {
		return nil, err
	}
	cr := normalize.NewCSVReader(text)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return map[core.PeriodKey][]core.Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	periodCol := -1
	for i, c := range header {
		if strings.EqualFold(normalize.Clean(c), ColReportPeriod) {
			periodCol = i
			break
		}
	}
	if periodCol < 0 {
		return nil, &core.MalformedRowError{Source: "dataset", Missing: []string{ColReportPeriod}}
	}
	h, err := normalize.NewHeader(header, "", "dataset")
	if err != nil {
		return nil, err
	}

	out := make(map[core.PeriodKey][]core.Row)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		if periodCol >= len(record) {
			return nil, fmt.Errorf("dataset line %d: %w: missing", line, core.ErrInvalidPeriod)
		}
		p, err := core.ParsePeriodKey(normalize.Clean(record[periodCol]))
		if err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", line, err)
		}
		out[p] = append(out[p], h.Row(record, p))
	}
	return out, nil
}

// Read loads the dataset at path. A missing file is reported with an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Read(path string) (map[core.PeriodKey][]core.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	ds, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ds, nil
}

// Write replaces the dataset at path atomically: the content goes to a
// temporary file in the same directory which is synced and then renamed
// over path. On any error the previous file is left untouched.
func Write(path string, dataset map[core.PeriodKey][]core.Row) (rows int, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp dataset: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	var w io.Writer = bw
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(bw)
		w = zw
	}
	if rows, err = Encode(w, dataset); err != nil {
		return 0, fmt.Errorf("encode dataset: %w", err)
	}
	if zw != nil {
		if err = zw.Close(); err != nil {
			return 0, fmt.Errorf("close gzip: %w", err)
		}
	}
	if err = bw.Flush(); err != nil {
		return 0, fmt.Errorf("flush dataset: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync dataset: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("close dataset: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, fmt.Errorf("chmod dataset: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace dataset: %w", err)
	}
	return rows, nil
}
