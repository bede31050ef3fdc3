// Package elections ingests third-party contribution disclosures from
// Elections Canada and provincial regulators. Only contributions above
// the jurisdiction's reporting threshold become edges.
package elections

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

const (
	sourceName = "elections"
	federalURL = "https://www.elections.ca/fin/oth/thi/contributions.csv"
)

// reportingThresholds is the fixed per-jurisdiction minimum (in that
// jurisdiction's dollars) for a contribution to be included.
var reportingThresholds = map[string]float64{
	"CA":    250, // federal
	"CA-AB": 250,
	"CA-BC": 250,
	"CA-ON": 100,
}

// Threshold returns the inclusion threshold for a jurisdiction code.
// Unlisted jurisdictions use the federal threshold.
func Threshold(jurisdictionCode string) float64 {
	if v, ok := reportingThresholds[strings.ToUpper(strings.TrimSpace(jurisdictionCode))]; ok {
		return v
	}
	return reportingThresholds["CA"]
}

// Contribution is one disclosed contribution to a registered third
// party.
type Contribution struct {
	ThirdParty      string  `json:"third_party"`
	ContributorName string  `json:"contributor_name"`
	ContributorType string  `json:"contributor_type"` // corporate | individual
	Amount          float64 `json:"amount"`
	DateReceived    string  `json:"date_received"`
	Jurisdiction    string  `json:"jurisdiction"`
}

// corporateMarkers classify a contributor as corporate when its name
// carries a legal-form token.
var corporateMarkers = map[string]bool{
	"inc": true, "incorporated": true, "ltd": true, "limited": true,
	"llc": true, "llp": true, "corp": true, "corporation": true,
	"co": true, "company": true, "association": true, "union": true,
	"society": true, "foundation": true, "fund": true, "group": true,
}

// ClassifyContributor reports "corporate" or "individual". An explicit
// type column wins; otherwise the name is inspected for legal-form
// tokens.
func ClassifyContributor(name, explicitType string) string {
	switch strings.ToLower(strings.TrimSpace(explicitType)) {
	case "corporation", "corporate", "business", "organization", "union":
		return "corporate"
	case "individual", "person":
		return "individual"
	}
	for _, tok := range strings.Fields(strings.ToLower(regexp.MustCompile(`[.,]`).ReplaceAllString(name, " "))) {
		if corporateMarkers[tok] {
			return "corporate"
		}
	}
	return "individual"
}

// Adapter pulls contribution disclosures.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the elections adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch downloads the disclosure file and emits contributions above
// the jurisdiction threshold. A source with no disclosures yields an
// empty, completed run.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	jurisdictionCode := strings.ToUpper(cfg.String("jurisdiction", "CA"))
	url := cfg.String("export_url", federalURL)

	body, err := a.pipe.Client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("contributions export: %w", err)
	}

	var contributions []*Contribution
	if strings.EqualFold(cfg.String("format", "csv"), "html") {
		contributions, err = ParseContributionsHTML(body, jurisdictionCode)
	} else {
		contributions, err = ParseContributionsCSV(body, jurisdictionCode)
	}
	if err != nil {
		return err
	}

	threshold := Threshold(jurisdictionCode)
	kept := 0
	for _, c := range contributions {
		if c.Amount <= threshold {
			continue
		}
		if !cfg.Targeted(c.ThirdParty, c.ContributorName) {
			continue
		}
		kept++
		if err := emit(c); err != nil {
			return err
		}
	}
	ingest.Logger(ctx).Info("contributions filtered",
		"jurisdiction", jurisdictionCode,
		"threshold", threshold,
		"total", len(contributions),
		"kept", kept)
	return nil
}

// ParseContributionsCSV reads a headered disclosure CSV.
func ParseContributionsCSV(body []byte, jurisdictionCode string) ([]*Contribution, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	field := func(row []string, names ...string) string {
		for _, n := range names {
			if i, ok := col[n]; ok && i < len(row) {
				if v := strings.TrimSpace(row[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var out []*Contribution
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
		c := &Contribution{
			ThirdParty:      field(row, "third party", "third_party", "recipient"),
			ContributorName: field(row, "contributor name", "contributor", "name"),
			DateReceived:    field(row, "date received", "date_received", "date"),
			Jurisdiction:    jurisdictionCode,
			Amount:          parseAmount(field(row, "amount", "monetary amount", "contribution amount")),
		}
		c.ContributorType = ClassifyContributor(c.ContributorName, field(row, "contributor type", "contributor class"))
		if c.ThirdParty == "" || c.ContributorName == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

var (
	tableRowRe  = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	tableCellRe = regexp.MustCompile(`(?is)<t[dh][^>]*>(.*?)</t[dh]>`)
	tagRe       = regexp.MustCompile(`(?s)<[^>]*>`)
)

// ParseContributionsHTML scrapes a disclosure table: the first row is
// the header, and columns are matched by header text. Provincial
// registries publish these as plain HTML tables.
func ParseContributionsHTML(body []byte, jurisdictionCode string) ([]*Contribution, error) {
	rows := tableRowRe.FindAllSubmatch(body, -1)
	if len(rows) < 2 {
		return nil, nil
	}

	header := cellTexts(rows[0][1])
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(h)] = i
	}
	field := func(cells []string, names ...string) string {
		for _, n := range names {
			if i, ok := col[n]; ok && i < len(cells) {
				if cells[i] != "" {
					return cells[i]
				}
			}
		}
		return ""
	}

	var out []*Contribution
	for _, row := range rows[1:] {
		cells := cellTexts(row[1])
		if len(cells) == 0 {
			continue
		}
		c := &Contribution{
			ThirdParty:      field(cells, "third party", "recipient"),
			ContributorName: field(cells, "contributor name", "contributor", "name"),
			DateReceived:    field(cells, "date received", "date"),
			Jurisdiction:    jurisdictionCode,
			Amount:          parseAmount(field(cells, "amount", "contribution amount")),
		}
		c.ContributorType = ClassifyContributor(c.ContributorName, field(cells, "contributor type"))
		if c.ThirdParty == "" || c.ContributorName == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func cellTexts(row []byte) []string {
	var out []string
	for _, m := range tableCellRe.FindAllSubmatch(row, -1) {
		text := tagRe.ReplaceAll(m[1], nil)
		out = append(out, strings.TrimSpace(string(text)))
	}
	return out
}

func parseAmount(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Process writes the contributor and third party and a CONTRIBUTED_TO
// edge keyed by receipt date.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	c, ok := record.(*Contribution)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a contribution record")
	}
	res := ingest.ProcessResult{RecordID: c.ContributorName}

	raw, err := json.Marshal(c)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, fmt.Errorf("marshal contribution: %w", err)
	}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "election_contribution",
			SourceURL:    federalURL,
			Source:       sourceName,
			ID:           contributionID(c),
			Ext:          "json",
			ContentType:  "application/json",
			Body:         raw,
		})
		if err != nil {
			return err
		}

		var contributorRes graph.NodeResult
		if c.ContributorType == "corporate" {
			contributor := model.NewEntity(model.EntityOrganization, c.ContributorName)
			contributor.Properties["jurisdiction"] = c.Jurisdiction
			contributorRes, err = a.pipe.UpsertResolved(ctx, rw, contributor)
		} else {
			contributor := model.NewEntity(model.EntityPerson, c.ContributorName)
			contributor.SetExternalID(model.IDOpencorpOfficer, contributorKey(c))
			contributorRes, err = rw.UpsertNode(ctx, contributor)
		}
		if err != nil {
			return err
		}
		res.EntityID = contributorRes.ID

		thirdParty := model.NewEntity(model.EntityOrganization, c.ThirdParty)
		thirdParty.Properties["jurisdiction"] = c.Jurisdiction
		thirdParty.Properties["registered_third_party"] = true
		tpRes, err := a.pipe.UpsertResolved(ctx, rw, thirdParty)
		if err != nil {
			return err
		}
		if contributorRes.Created || tpRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		rel := model.NewRelationship(model.EdgeContributedTo, contributorRes.ID, tpRes.ID)
		rel.Properties["amount"] = c.Amount
		rel.Properties["currency"] = "CAD"
		rel.Properties["date_received"] = c.DateReceived
		rel.Properties["contributor_class"] = c.ContributorType
		rel.Properties["jurisdiction"] = c.Jurisdiction
		rel.EvidenceIDs = []string{evidenceID}
		if t, err := time.Parse("2006-01-02", c.DateReceived); err == nil {
			rel.ValidFrom = &t
		}
		_, err = rw.UpsertEdge(ctx, rel)
		return err
	})
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, err
	}
	return res, nil
}

func contributionID(c *Contribution) string {
	return fmt.Sprintf("%s_%s_%s",
		resolve.NormalizeName(c.ThirdParty),
		resolve.NormalizeName(c.ContributorName),
		strings.ReplaceAll(c.DateReceived, "-", ""))
}

func contributorKey(c *Contribution) string {
	return "elections:" + strings.ToLower(c.Jurisdiction) + ":" + resolve.NormalizeName(c.ContributorName)
}
