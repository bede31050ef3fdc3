// Package isedcorps ingests the ISED federal corporations bulk XML:
// corporation records with act and status codes mapped onto the node
// enums, plus current directors.
package isedcorps

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

const (
	sourceName = "ised_corps"
	bulkURL    = "https://open.canada.ca/data/dataset/corporations-canada/OPEN_DATA_SPLIT.xml"
)

// actCodeOrgTypes maps ISED act codes onto the org_type enum.
// CBCA: Canada Business Corporations Act. NFP: Canada Not-for-profit
// Corporations Act. CCA: Canada Corporations Act (predecessor of NFP).
// COOP: Canada Cooperatives Act. BOTA: Boards of Trade Act.
var actCodeOrgTypes = map[string]model.OrgType{
	"CBCA": model.OrgCorporation,
	"NFP":  model.OrgNonprofit,
	"CCA":  model.OrgNonprofit,
	"COOP": model.OrgCorporation,
	"BOTA": model.OrgNonprofit,
}

// statusCodes maps ISED status codes onto the status enum.
var statusCodes = map[string]model.OrgStatus{
	"ACT": model.StatusActive,
	"DIS": model.StatusInactive, // dissolved
	"DSI": model.StatusInactive, // dissolution in progress
	"AMA": model.StatusInactive, // amalgamated into a successor
	"REV": model.StatusRevoked,
}

// OrgTypeForAct resolves an act code; unlisted codes are unknown.
func OrgTypeForAct(code string) model.OrgType {
	if t, ok := actCodeOrgTypes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	return model.OrgUnknown
}

// StatusForCode resolves a status code; unlisted codes are unknown.
func StatusForCode(code string) model.OrgStatus {
	if s, ok := statusCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return s
	}
	return model.StatusUnknown
}

// Corporation is one bulk-file record.
type Corporation struct {
	CorpNumber string   `xml:"corporationId" json:"corp_number"`
	Name       string   `xml:"name" json:"name"`
	ActCode    string   `xml:"actCode" json:"act_code"`
	StatusCode string   `xml:"statusCode" json:"status_code"`
	City       string   `xml:"address>city" json:"city,omitempty"`
	Province   string   `xml:"address>province" json:"province,omitempty"`
	Postal     string   `xml:"address>postalCode" json:"postal,omitempty"`
	Directors  []string `xml:"directors>director>name" json:"directors,omitempty"`
}

type bulkDoc struct {
	XMLName      xml.Name      `xml:"corporations"`
	Corporations []Corporation `xml:"corporation"`
}

// ParseBulk decodes the bulk corporations XML.
func ParseBulk(raw []byte) ([]Corporation, error) {
	var doc bulkDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode corporations: %w", err)
	}
	return doc.Corporations, nil
}

// Adapter pulls the ISED bulk corporations file.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the ISED adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch downloads the bulk XML and emits one record per corporation.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	body, err := a.pipe.Client.GetBulk(ctx, bulkURL)
	if err != nil {
		return fmt.Errorf("ised bulk: %w", err)
	}
	corps, err := ParseBulk(body)
	if err != nil {
		return err
	}
	ingest.Logger(ctx).Info("bulk file parsed", "corporations", len(corps))

	for i := range corps {
		c := &corps[i]
		if !cfg.Targeted(c.CorpNumber, c.Name) {
			continue
		}
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

// Process writes one corporation and its directors.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	corp, ok := record.(*Corporation)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a corporation record")
	}
	res := ingest.ProcessResult{RecordID: corp.CorpNumber}
	if corp.CorpNumber == "" {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("corporation_id", "missing corporation number")
	}

	raw, err := json.Marshal(corp)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, fmt.Errorf("marshal corporation: %w", err)
	}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "ised_corporation",
			SourceURL:    bulkURL,
			Source:       sourceName,
			ID:           corp.CorpNumber,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         raw,
		})
		if err != nil {
			return err
		}

		org := model.NewEntity(model.EntityOrganization, corp.Name)
		org.SetExternalID(model.IDCanadaCorpNum, corp.CorpNumber)
		org.Properties["org_type"] = string(OrgTypeForAct(corp.ActCode))
		org.Properties["status"] = string(StatusForCode(corp.StatusCode))
		org.Properties["act_code"] = strings.ToUpper(corp.ActCode)
		org.Properties["jurisdiction"] = "CA"
		if corp.City != "" || corp.Postal != "" {
			org.Address = &model.Address{
				City:    corp.City,
				Region:  corp.Province,
				Postal:  corp.Postal,
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

		for _, name := range corp.Directors {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			person := model.NewEntity(model.EntityPerson, name)
			person.SetExternalID(model.IDOpencorpOfficer, directorKey(corp.CorpNumber, name))
			personRes, err := rw.UpsertNode(ctx, person)
			if err != nil {
				return err
			}
			rel := model.NewRelationship(model.EdgeDirectorOf, personRes.ID, orgRes.ID)
			rel.Properties["title"] = "Director"
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

// directorKey scopes a director name to its corporation.
func directorKey(corpNumber, name string) string {
	return "ised:" + corpNumber + ":" + resolve.NormalizeName(name)
}
