// Package cra ingests the CRA registered-charities bulk data: the
// identification, financials and qualified-donee CSVs, joined by
// business number.
package cra

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/identifiers"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/jurisdiction"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

const (
	sourceName = "cra_charities"
	baseURL    = "https://apps.cra-arc.gc.ca/ebci/hacc/srch/pub/bulkdata"

	identFile  = "ident.csv"
	financFile = "financial_d.csv"
	doneesFile = "gifts_qualified_donees.csv"
)

// Charity is one joined record: the identification row plus its
// financial summary and qualified-donee gift rows.
type Charity struct {
	BN              string  `json:"bn"`
	Name            string  `json:"name"`
	City            string  `json:"city"`
	Province        string  `json:"province"`
	Postal          string  `json:"postal"`
	Status          string  `json:"status"`
	FiscalPeriodEnd string  `json:"fiscal_period_end"`
	TotalRevenue    float64 `json:"total_revenue,omitempty"`
	Gifts           []Gift  `json:"gifts,omitempty"`
}

// Gift is one qualified-donee row: money given by the charity.
type Gift struct {
	DoneeBN   string  `json:"donee_bn"`
	DoneeName string  `json:"donee_name"`
	City      string  `json:"city,omitempty"`
	Province  string  `json:"province,omitempty"`
	Amount    float64 `json:"amount"`
}

// FiscalYear extracts the year of the fiscal period end.
func (c *Charity) FiscalYear() int {
	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, c.FiscalPeriodEnd); err == nil {
			return t.Year()
		}
	}
	return 0
}

// Adapter pulls the monthly CRA bulk snapshot.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the CRA charities adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch downloads the three bulk CSVs and emits one joined Charity
// record per identification row.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)

	ident, err := a.fetchCSV(ctx, identFile)
	if err != nil {
		return fmt.Errorf("cra identification: %w", err)
	}
	financ, err := a.fetchCSV(ctx, financFile)
	if err != nil {
		return fmt.Errorf("cra financials: %w", err)
	}
	donees, err := a.fetchCSV(ctx, doneesFile)
	if err != nil {
		return fmt.Errorf("cra qualified donees: %w", err)
	}

	charities := JoinBulk(ident, financ, donees)
	logger.Info("bulk snapshot joined",
		"charities", len(charities),
		"financial_rows", len(financ),
		"gift_rows", len(donees))

	for _, c := range charities {
		if !cfg.Targeted(c.BN, c.Name) {
			continue
		}
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) fetchCSV(ctx context.Context, name string) ([]map[string]string, error) {
	body, err := a.pipe.Client.GetBulk(ctx, fmt.Sprintf("%s/%s", baseURL, name))
	if err != nil {
		return nil, err
	}
	return parseCSV(body)
}

// parseCSV reads a headered CSV into rows keyed by lowercased header.
func parseCSV(body []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// JoinBulk assembles Charity records from the three bulk files, keyed
// by BN. Rows with an invalid BN are dropped.
func JoinBulk(ident, financ, donees []map[string]string) []*Charity {
	byBN := make(map[string]*Charity)
	var order []string
	for _, row := range ident {
		bn, err := identifiers.NormalizeBN(pick(row, "bn", "bn/registration number"))
		if err != nil {
			continue
		}
		c := &Charity{
			BN:       bn,
			Name:     pick(row, "legal name", "name"),
			City:     pick(row, "city"),
			Province: pick(row, "province", "prov"),
			Postal:   pick(row, "postal code", "postal"),
			Status:   pick(row, "status"),
		}
		byBN[bn] = c
		order = append(order, bn)
	}

	for _, row := range financ {
		bn, err := identifiers.NormalizeBN(pick(row, "bn", "bn/registration number"))
		if err != nil {
			continue
		}
		c, ok := byBN[bn]
		if !ok {
			continue
		}
		c.FiscalPeriodEnd = pick(row, "fiscal period end", "fpe")
		if v, err := strconv.ParseFloat(strings.ReplaceAll(pick(row, "total revenue", "4700"), ",", ""), 64); err == nil {
			c.TotalRevenue = v
		}
	}

	for _, row := range donees {
		bn, err := identifiers.NormalizeBN(pick(row, "bn", "donor bn"))
		if err != nil {
			continue
		}
		c, ok := byBN[bn]
		if !ok {
			continue
		}
		amount, _ := strconv.ParseFloat(strings.ReplaceAll(pick(row, "amount", "total amount"), ",", ""), 64)
		gift := Gift{
			DoneeName: pick(row, "donee name", "qualified donee name"),
			City:      pick(row, "donee city", "city"),
			Province:  pick(row, "donee province", "province"),
			Amount:    amount,
		}
		if doneeBN, err := identifiers.NormalizeBN(pick(row, "donee bn", "qualified donee bn")); err == nil {
			gift.DoneeBN = doneeBN
		}
		if gift.DoneeName == "" && gift.DoneeBN == "" {
			continue
		}
		c.Gifts = append(c.Gifts, gift)
	}

	out := make([]*Charity, 0, len(order))
	for _, bn := range order {
		out = append(out, byBN[bn])
	}
	return out
}

func pick(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := row[k]; v != "" {
			return v
		}
	}
	return ""
}

// Process writes one charity: the organization node and one FUNDED_BY
// edge per qualified-donee gift (donee funded by charity, in CAD).
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	charity, ok := record.(*Charity)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a charity record")
	}
	res := ingest.ProcessResult{RecordID: charity.BN}

	raw, err := json.Marshal(charity)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, fmt.Errorf("marshal charity: %w", err)
	}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "cra_charity_return",
			SourceURL:    fmt.Sprintf("%s/%s", baseURL, identFile),
			Source:       sourceName,
			ID:           charity.BN,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         raw,
		})
		if err != nil {
			return err
		}

		org := model.NewEntity(model.EntityOrganization, charity.Name)
		org.SetExternalID(model.IDBn, charity.BN)
		org.Properties["org_type"] = string(model.OrgNonprofit)
		org.Properties["jurisdiction"] = provinceJurisdiction(charity.Province)
		if charity.Status != "" {
			org.Properties["charity_status"] = charity.Status
		}
		if charity.City != "" || charity.Postal != "" {
			org.Address = &model.Address{
				City:    charity.City,
				Region:  charity.Province,
				Postal:  charity.Postal,
				Country: "CA",
			}
		}
		orgRes, err := rw.UpsertNode(ctx, org)
		if err != nil {
			return err
		}
		res.EntityID = orgRes.ID
		if orgRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		for _, gift := range charity.Gifts {
			donee := model.NewEntity(model.EntityOrganization, gift.DoneeName)
			if gift.DoneeBN != "" {
				donee.SetExternalID(model.IDBn, gift.DoneeBN)
			}
			donee.Properties["org_type"] = string(model.OrgNonprofit)
			donee.Properties["jurisdiction"] = provinceJurisdiction(gift.Province)
			doneeRes, err := a.pipe.UpsertResolved(ctx, rw, donee)
			if err != nil {
				return err
			}

			rel := model.NewRelationship(model.EdgeFundedBy, doneeRes.ID, orgRes.ID)
			rel.Properties["fiscal_year"] = charity.FiscalYear()
			rel.Properties["amount"] = gift.Amount
			rel.Properties["currency"] = "CAD"
			rel.EvidenceIDs = []string{evidenceID}
			if _, err := rw.UpsertEdge(ctx, rel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, err
	}
	return res, nil
}

// provinceJurisdiction maps a CRA province value to a jurisdiction
// code; unknown or empty values fall back to "CA".
func provinceJurisdiction(prov string) string {
	p := strings.ToUpper(strings.TrimSpace(prov))
	if len(p) == 2 && jurisdiction.RegionName("CA-"+p) != "" {
		return "CA-" + p
	}
	return "CA"
}
