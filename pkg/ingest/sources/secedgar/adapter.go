// Package secedgar ingests SEC EDGAR filings: company profiles from
// the submissions API, ownership stakes from 13D/13G headers, and
// insider roles from Form 4 XML.
package secedgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/civiclens/mitds/pkg/identifiers"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
)

const (
	sourceName     = "sec_edgar"
	submissionsURL = "https://data.sec.gov/submissions/CIK%s.json"
	archivesURL    = "https://www.sec.gov/Archives/edgar/data/%d/%s.txt"
)

// ownershipForms are the beneficial-ownership form types we follow.
var ownershipForms = map[string]bool{
	"SC 13D":   true,
	"SC 13D/A": true,
	"SC 13G":   true,
	"SC 13G/A": true,
}

// Adapter pulls per-CIK submission histories.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the EDGAR adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// submissionsDoc is the subset of the submissions API response we use.
type submissionsDoc struct {
	CIK                  string `json:"cik"`
	Name                 string `json:"name"`
	StateOfIncorporation string `json:"stateOfIncorporation"`
	SICDescription       string `json:"sicDescription"`
	Filings              struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			Form            []string `json:"form"`
			FilingDate      []string `json:"filingDate"`
		} `json:"recent"`
	} `json:"filings"`
}

// Fetch walks the configured CIKs: the company profile first, then one
// record per 13D/G and Form 4 filing.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)
	ciks := cfg.Strings("ciks")
	if len(ciks) == 0 {
		ciks = cfg.TargetEntities
	}
	if len(ciks) == 0 {
		return model.NewValidationError("ciks", "edgar runs need ciks or target_entities")
	}

	for _, raw := range ciks {
		cik, err := identifiers.NormalizeCIK(raw)
		if err != nil {
			logger.Warn("skipping invalid cik", "cik", raw)
			continue
		}
		doc, body, err := a.fetchSubmissions(ctx, cik)
		if err != nil {
			return fmt.Errorf("submissions %s: %w", cik, err)
		}
		if err := emit(&CompanyRecord{CIK: cik, Doc: doc, Raw: body}); err != nil {
			return err
		}

		recent := doc.Filings.Recent
		for i, form := range recent.Form {
			if i >= len(recent.AccessionNumber) {
				break
			}
			if !withinWindow(cfg, at(recent.FilingDate, i)) {
				continue
			}
			switch {
			case ownershipForms[form]:
				rec, err := a.fetchOwnership(ctx, doc, recent.AccessionNumber[i], form, at(recent.FilingDate, i))
				if err != nil {
					logger.Warn("ownership filing unavailable", "accession", recent.AccessionNumber[i], "err", err)
					continue
				}
				if err := emit(rec); err != nil {
					return err
				}
			case form == "4":
				rec, err := a.fetchForm4(ctx, doc, recent.AccessionNumber[i], at(recent.FilingDate, i))
				if err != nil {
					logger.Warn("form 4 unavailable", "accession", recent.AccessionNumber[i], "err", err)
					continue
				}
				if err := emit(rec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (a *Adapter) fetchSubmissions(ctx context.Context, cik string) (*submissionsDoc, []byte, error) {
	body, err := a.pipe.Client.Get(ctx, fmt.Sprintf(submissionsURL, cik))
	if err != nil {
		return nil, nil, err
	}
	var doc submissionsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode submissions: %w", err)
	}
	return &doc, body, nil
}

func (a *Adapter) fetchOwnership(ctx context.Context, doc *submissionsDoc, accession, form, filed string) (*OwnershipRecord, error) {
	body, err := a.fetchFiling(ctx, doc, accession)
	if err != nil {
		return nil, err
	}
	header, err := ParseFilingHeader(body)
	if err != nil {
		return nil, err
	}
	return &OwnershipRecord{
		Accession: accession,
		Form:      form,
		FiledAt:   filed,
		Header:    header,
		Details:   ParseOwnershipDetails(body),
		Raw:       body,
	}, nil
}

func (a *Adapter) fetchForm4(ctx context.Context, doc *submissionsDoc, accession, filed string) (*InsiderRecord, error) {
	body, err := a.fetchFiling(ctx, doc, accession)
	if err != nil {
		return nil, err
	}
	form4, err := ParseForm4(body)
	if err != nil {
		return nil, err
	}
	return &InsiderRecord{
		Accession: accession,
		FiledAt:   filed,
		Form4:     form4,
		Raw:       body,
	}, nil
}

func (a *Adapter) fetchFiling(ctx context.Context, doc *submissionsDoc, accession string) ([]byte, error) {
	var cikNum int
	fmt.Sscanf(strings.TrimLeft(doc.CIK, "0"), "%d", &cikNum)
	return a.pipe.Client.Get(ctx, fmt.Sprintf(archivesURL, cikNum, accession))
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

func withinWindow(cfg ingest.RunConfig, filingDate string) bool {
	if filingDate == "" || (cfg.DateFrom == nil && cfg.DateTo == nil) {
		return true
	}
	if cfg.DateFrom != nil && filingDate < cfg.DateFrom.Format("2006-01-02") {
		return false
	}
	if cfg.DateTo != nil && filingDate > cfg.DateTo.Format("2006-01-02") {
		return false
	}
	return true
}
