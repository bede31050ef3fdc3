// Package opencorporates ingests company and officer records from the
// OpenCorporates API. Runs are keyed by jurisdiction/company-number
// pairs; each company emits one record carrying its officer list.
package opencorporates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

const (
	sourceName = "opencorporates"
	apiBase    = "https://api.opencorporates.com/v0.4"
)

// Officer is one company officer as the API reports it.
type Officer struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Position  string `json:"position"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Company is the subset of the company response the graph needs.
type Company struct {
	Name              string `json:"name"`
	CompanyNumber     string `json:"company_number"`
	JurisdictionCode  string `json:"jurisdiction_code"`
	CompanyType       string `json:"company_type"`
	CurrentStatus     string `json:"current_status"`
	IncorporationDate string `json:"incorporation_date"`
	RegisteredAddress struct {
		Locality   string `json:"locality"`
		Region     string `json:"region"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"registered_address"`
	Officers []struct {
		Officer Officer `json:"officer"`
	} `json:"officers"`
}

type companyDoc struct {
	Results struct {
		Company Company `json:"company"`
	} `json:"results"`
}

// Record pairs a parsed company with its raw response for evidence.
type Record struct {
	Company Company
	Raw     []byte
}

// Adapter pulls companies by jurisdiction/number.
type Adapter struct {
	pipe     *ingest.Pipeline
	apiToken string
}

// New creates the OpenCorporates adapter. The API token comes from
// configuration and is appended to every request.
func New(pipe *ingest.Pipeline, apiToken string) *Adapter {
	return &Adapter{pipe: pipe, apiToken: apiToken}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch resolves each "jurisdiction/number" pair from the run's
// companies parameter (or target entities) and emits one record per
// company.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)
	companies := cfg.Strings("companies")
	if len(companies) == 0 {
		companies = cfg.TargetEntities
	}
	if len(companies) == 0 {
		return model.NewValidationError("companies", "opencorporates runs need companies or target_entities")
	}

	for _, ref := range companies {
		jurisdiction, number, ok := strings.Cut(strings.TrimSpace(ref), "/")
		if !ok {
			logger.Warn("skipping malformed company reference", "ref", ref)
			continue
		}
		body, err := a.pipe.Client.Get(ctx, a.companyURL(jurisdiction, number))
		if err != nil {
			return fmt.Errorf("opencorporates company %s: %w", ref, err)
		}
		var doc companyDoc
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("decode company %s: %w", ref, err)
		}
		if err := emit(&Record{Company: doc.Results.Company, Raw: body}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) companyURL(jurisdiction, number string) string {
	u := fmt.Sprintf("%s/companies/%s/%s", apiBase,
		url.PathEscape(strings.ToLower(jurisdiction)), url.PathEscape(number))
	if a.apiToken != "" {
		u += "?api_token=" + url.QueryEscape(a.apiToken)
	}
	return u
}

// Process writes the company and its officers. Officers whose position
// names a board role become DIRECTOR_OF, the rest EMPLOYED_BY.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	rec, ok := record.(*Record)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not an opencorporates record")
	}
	c := rec.Company
	res := ingest.ProcessResult{RecordID: companyKey(c)}
	if c.Name == "" || c.CompanyNumber == "" {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("company", "company missing name or number")
	}

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "opencorporates_company",
			SourceURL:    fmt.Sprintf("https://opencorporates.com/companies/%s/%s", strings.ToLower(c.JurisdictionCode), c.CompanyNumber),
			Source:       sourceName,
			ID:           companyKey(c),
			Ext:          "json",
			ContentType:  "application/json",
			Body:         rec.Raw,
		})
		if err != nil {
			return err
		}

		org := model.NewEntity(model.EntityOrganization, c.Name)
		org.SetExternalID(model.IDOpencorpCompany, companyKey(c))
		org.Properties["jurisdiction"] = JurisdictionCode(c.JurisdictionCode)
		if c.CompanyType != "" {
			org.Properties["company_type"] = c.CompanyType
		}
		if c.CurrentStatus != "" {
			org.Properties["status"] = c.CurrentStatus
		}
		if c.IncorporationDate != "" {
			org.Properties["incorporation_date"] = c.IncorporationDate
		}
		if c.RegisteredAddress.Locality != "" || c.RegisteredAddress.PostalCode != "" {
			org.Address = &model.Address{
				City:    c.RegisteredAddress.Locality,
				Region:  c.RegisteredAddress.Region,
				Postal:  c.RegisteredAddress.PostalCode,
				Country: c.RegisteredAddress.Country,
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

		for _, wrapped := range c.Officers {
			if err := a.writeOfficer(ctx, rw, orgRes.ID, wrapped.Officer, evidenceID); err != nil {
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

// boardMarkers are position substrings that make an officer a director.
var boardMarkers = []string{"director", "trustee", "chair", "board"}

func (a *Adapter) writeOfficer(ctx context.Context, rw *graph.RecordWriter, orgID string, o Officer, evidenceID string) error {
	if o.Name == "" {
		return nil
	}
	person := model.NewEntity(model.EntityPerson, o.Name)
	person.SetExternalID(model.IDOpencorpOfficer, strconv.Itoa(o.ID))
	personRes, err := rw.UpsertNode(ctx, person)
	if err != nil {
		return err
	}

	edgeType := model.EdgeEmployedBy
	lower := strings.ToLower(o.Position)
	for _, marker := range boardMarkers {
		if strings.Contains(lower, marker) {
			edgeType = model.EdgeDirectorOf
			break
		}
	}
	rel := model.NewRelationship(edgeType, personRes.ID, orgID)
	rel.Properties["title"] = o.Position
	rel.EvidenceIDs = []string{evidenceID}
	if t, err := time.Parse("2006-01-02", o.StartDate); err == nil {
		rel.ValidFrom = &t
	}
	if t, err := time.Parse("2006-01-02", o.EndDate); err == nil {
		rel.ValidTo = &t
	}
	_, err = rw.UpsertEdge(ctx, rel)
	return err
}

// companyKey is the stable external id: jurisdiction_number, matching
// OpenCorporates' own canonical identifier shape.
func companyKey(c Company) string {
	return strings.ToLower(c.JurisdictionCode) + "_" + c.CompanyNumber
}

// JurisdictionCode maps an OpenCorporates jurisdiction code ("ca_on",
// "us_de") onto the internal dashed form ("CA-ON", "US-DE").
func JurisdictionCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
}
