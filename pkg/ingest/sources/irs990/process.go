package irs990

import (
	"context"
	"fmt"
	"strings"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/identifiers"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

func (a *Adapter) process(ctx context.Context, filing *Filing, ein string) (ingest.ProcessResult, error) {
	res := ingest.ProcessResult{RecordID: ein}

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "irs_990_filing",
			SourceURL:    fmt.Sprintf("https://apps.irs.gov/pub/epostcard/990/xml/%d/%s_public.xml", filing.FiscalYear(), filing.ObjectID),
			Source:       sourceName,
			ID:           filing.ObjectID,
			Ext:          "xml",
			ContentType:  "application/xml",
			Body:         filing.Raw,
		})
		if err != nil {
			return err
		}

		filer := model.NewEntity(model.EntityOrganization, filing.FilerName)
		filer.SetExternalID(model.IDEin, ein)
		filer.Address = filing.Address
		filer.Properties["org_type"] = string(model.OrgNonprofit)
		filer.Properties["jurisdiction"] = "US"
		filerRes, err := rw.UpsertNode(ctx, filer)
		if err != nil {
			return err
		}
		res.EntityID = filerRes.ID
		if filerRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		if err := a.writeOfficers(ctx, rw, filing, filerRes.ID, ein, evidenceID); err != nil {
			return err
		}
		if err := a.writeGrants(ctx, rw, filing, filerRes.ID, evidenceID); err != nil {
			return err
		}
		return a.writeRelated(ctx, rw, filing, filerRes.ID, evidenceID)
	})
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, err
	}
	return res, nil
}

// writeOfficers emits Part VII people. Board titles become DIRECTOR_OF,
// the rest EMPLOYED_BY; the edge is valid for the filing's tax period.
func (a *Adapter) writeOfficers(ctx context.Context, rw *graph.RecordWriter, filing *Filing, filerID, ein, evidenceID string) error {
	for _, officer := range filing.Officers {
		person := model.NewEntity(model.EntityPerson, officer.Name)
		// Part VII names are only unique within one filer.
		person.SetExternalID(model.IDIrs990Name, officerKey(ein, officer.Name))
		personRes, err := rw.UpsertNode(ctx, person)
		if err != nil {
			return err
		}

		edgeType := model.EdgeEmployedBy
		if officer.IsDirector() {
			edgeType = model.EdgeDirectorOf
		}
		rel := model.NewRelationship(edgeType, personRes.ID, filerID)
		rel.Properties["title"] = officer.Title
		if officer.Compensation > 0 {
			rel.Properties["compensation"] = officer.Compensation
		}
		if officer.HoursPerWeek > 0 {
			rel.Properties["hours_per_week"] = officer.HoursPerWeek
		}
		rel.EvidenceIDs = []string{evidenceID}
		if !filing.TaxPeriodEnd.IsZero() {
			start := filing.TaxPeriodEnd.AddDate(-1, 0, 1)
			end := filing.TaxPeriodEnd
			rel.ValidFrom, rel.ValidTo = &start, &end
		}
		if _, err := rw.UpsertEdge(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// writeGrants emits Schedule I rows as FUNDED_BY from recipient to
// filer. A foreign recipient's country code flows into jurisdiction.
func (a *Adapter) writeGrants(ctx context.Context, rw *graph.RecordWriter, filing *Filing, filerID, evidenceID string) error {
	for _, grant := range filing.Grants {
		recipient := model.NewEntity(model.EntityOrganization, grant.RecipientName)
		if grant.RecipientEIN != "" {
			rein, err := identifiers.NormalizeEIN(grant.RecipientEIN)
			if err == nil {
				recipient.SetExternalID(model.IDEin, rein)
			}
		}
		recipient.Address = grant.Address
		switch {
		case grant.ForeignCountry != "":
			recipient.Properties["jurisdiction"] = strings.ToUpper(grant.ForeignCountry)
		case grant.Address != nil:
			recipient.Properties["jurisdiction"] = "US"
		}

		recRes, err := a.pipe.UpsertResolved(ctx, rw, recipient)
		if err != nil {
			return err
		}

		rel := model.NewRelationship(model.EdgeFundedBy, recRes.ID, filerID)
		rel.Properties["fiscal_year"] = filing.FiscalYear()
		rel.Properties["amount"] = grant.Amount
		rel.Properties["currency"] = "USD"
		if grant.Purpose != "" {
			rel.Properties["grant_purpose"] = grant.Purpose
		}
		rel.EvidenceIDs = []string{evidenceID}
		if _, err := rw.UpsertEdge(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) writeRelated(ctx context.Context, rw *graph.RecordWriter, filing *Filing, filerID, evidenceID string) error {
	for _, rorg := range filing.RelatedOrgs {
		related := model.NewEntity(model.EntityOrganization, rorg.Name)
		if rorg.EIN != "" {
			if rein, err := identifiers.NormalizeEIN(rorg.EIN); err == nil {
				related.SetExternalID(model.IDEin, rein)
			}
		}
		relRes, err := a.pipe.UpsertResolved(ctx, rw, related)
		if err != nil {
			return err
		}

		rel := model.NewRelationship(model.EdgeOwns, filerID, relRes.ID)
		rel.Properties["filing_accession"] = filing.ObjectID
		if rorg.Relationship != "" {
			rel.Properties["activity"] = rorg.Relationship
		}
		rel.EvidenceIDs = []string{evidenceID}
		if _, err := rw.UpsertEdge(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// officerKey scopes a Part VII name to its filer.
func officerKey(ein, name string) string {
	return ein + ":" + resolve.NormalizeName(name)
}
