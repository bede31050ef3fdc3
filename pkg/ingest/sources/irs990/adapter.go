// Package irs990 ingests IRS Form 990 e-file XML: officers and board
// members from Part VII, grants from Schedule I, and related
// organizations from Schedule R.
package irs990

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/identifiers"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
)

const (
	sourceName = "irs_990"
	indexURL   = "https://apps.irs.gov/pub/epostcard/990/xml/%d/index_%d.csv"
	archiveURL = "https://apps.irs.gov/pub/epostcard/990/xml/%d/download990xml_%d_%d.zip"
)

// Adapter pulls yearly filing indexes and monthly XML archives.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the IRS 990 adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch walks the configured years: index CSV first to learn which
// filings exist, then one ZIP per month, one XML filing per entry.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)
	startYear := cfg.Int("start_year", time.Now().Year()-1)
	endYear := cfg.Int("end_year", startYear)

	for year := startYear; year <= endYear; year++ {
		index, err := a.fetchIndex(ctx, year)
		if err != nil {
			return fmt.Errorf("990 index %d: %w", year, err)
		}
		logger.Info("filing index loaded", "year", year, "filings", len(index))

		months := monthsWithFilings(index)
		for _, month := range months {
			if err := a.fetchArchive(ctx, cfg, year, month, index, emit); err != nil {
				return fmt.Errorf("990 archive %d-%02d: %w", year, month, err)
			}
		}
	}
	return nil
}

// indexEntry is one row of the yearly index CSV.
type indexEntry struct {
	EIN      string
	Name     string
	ObjectID string
	Month    int
}

func (a *Adapter) fetchIndex(ctx context.Context, year int) (map[string]indexEntry, error) {
	body, err := a.pipe.Client.Get(ctx, fmt.Sprintf(indexURL, year, year))
	if err != nil {
		return nil, err
	}
	return parseIndex(body)
}

func parseIndex(body []byte) (map[string]indexEntry, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("index header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	index := make(map[string]indexEntry)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index row: %w", err)
		}
		entry := indexEntry{
			EIN:      field(row, "ein"),
			Name:     field(row, "taxpayer_name"),
			ObjectID: field(row, "object_id"),
		}
		if entry.ObjectID == "" {
			continue
		}
		if sub := field(row, "date_submitted"); len(sub) >= 7 {
			// Index dates are M/D/YYYY or YYYY-MM-DD; only the month matters.
			if t, err := time.Parse("2006-01-02", sub); err == nil {
				entry.Month = int(t.Month())
			} else if t, err := time.Parse("1/2/2006", sub); err == nil {
				entry.Month = int(t.Month())
			}
		}
		if entry.Month == 0 {
			entry.Month = 1
		}
		index[entry.ObjectID] = entry
	}
	return index, nil
}

func monthsWithFilings(index map[string]indexEntry) []int {
	seen := make(map[int]bool)
	for _, e := range index {
		seen[e.Month] = true
	}
	var months []int
	for m := 1; m <= 12; m++ {
		if seen[m] {
			months = append(months, m)
		}
	}
	return months
}

func (a *Adapter) fetchArchive(ctx context.Context, cfg ingest.RunConfig, year, month int, index map[string]indexEntry, emit ingest.EmitFunc) error {
	body, err := a.pipe.Client.GetBulk(ctx, fmt.Sprintf(archiveURL, year, year, month))
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		objectID := strings.TrimSuffix(strings.TrimSuffix(f.Name, ".xml"), "_public")
		if slash := strings.LastIndex(objectID, "/"); slash >= 0 {
			objectID = objectID[slash+1:]
		}
		if entry, ok := index[objectID]; ok && !cfg.Targeted(entry.EIN, entry.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		filing, err := ParseFiling(raw)
		if err != nil {
			// A malformed filing is a record problem, not a run problem.
			filing = &Filing{ObjectID: objectID, ParseErr: err}
		}
		filing.ObjectID = objectID
		filing.Raw = raw
		if err := emit(filing); err != nil {
			return err
		}
	}
	return nil
}

// Process writes one filing: the filer organization, its Part VII
// people, Schedule I grants and Schedule R related organizations, all
// in one transaction with one evidence row.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	filing, ok := record.(*Filing)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a 990 filing")
	}
	res := ingest.ProcessResult{RecordID: filing.RecordID()}
	if filing.ParseErr != nil {
		res.Action = ingest.ActionFailed
		return res, &model.APIError{
			Code:    model.CodeRecord,
			Message: fmt.Sprintf("unparseable filing: %v", filing.ParseErr),
		}
	}
	ein, err := identifiers.NormalizeEIN(filing.FilerEIN)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("ein", err.Error())
	}
	return a.process(ctx, filing, ein)
}
