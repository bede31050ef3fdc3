package secedgar

import (
	"context"
	"fmt"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/identifiers"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/jurisdiction"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

// CompanyRecord is the company profile from the submissions API.
type CompanyRecord struct {
	CIK string
	Doc *submissionsDoc
	Raw []byte
}

// OwnershipRecord is one 13D/13G filing with its header roles and
// cover-page stake figures.
type OwnershipRecord struct {
	Accession string
	Form      string
	FiledAt   string
	Header    *FilingHeader
	Details   OwnershipDetails
	Raw       []byte
}

// InsiderRecord is one Form 4 filing.
type InsiderRecord struct {
	Accession string
	FiledAt   string
	Form4     *Form4
	Raw       []byte
}

// Process dispatches on record type.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	switch rec := record.(type) {
	case *CompanyRecord:
		return a.processCompany(ctx, rec)
	case *OwnershipRecord:
		return a.processOwnership(ctx, rec)
	case *InsiderRecord:
		return a.processInsider(ctx, rec)
	default:
		return ingest.ProcessResult{}, model.NewValidationError("record", "unknown edgar record type")
	}
}

// processCompany writes the registrant. Jurisdiction comes solely from
// the stateOfIncorporation code table: EDGAR's Canadian codes map to
// Canada, while the literal "CA" stays California.
func (a *Adapter) processCompany(ctx context.Context, rec *CompanyRecord) (ingest.ProcessResult, error) {
	cik, err := identifiers.NormalizeCIK(rec.Doc.CIK)
	if err != nil {
		cik = rec.CIK
	}
	res := ingest.ProcessResult{RecordID: cik}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		_, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "edgar_submissions",
			SourceURL:    fmt.Sprintf(submissionsURL, cik),
			Source:       sourceName,
			ID:           cik,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         rec.Raw,
		})
		if err != nil {
			return err
		}

		org := model.NewEntity(model.EntityOrganization, rec.Doc.Name)
		org.SetExternalID(model.IDSecCik, cik)
		org.Properties["org_type"] = string(model.OrgCorporation)
		jur, canadian := jurisdiction.FromSECState(rec.Doc.StateOfIncorporation)
		if jur != "" {
			org.Properties["jurisdiction"] = jur
		}
		org.Properties["is_canadian"] = canadian
		if prov := jurisdiction.SECProvince(rec.Doc.StateOfIncorporation); prov != "" {
			org.Properties["province"] = prov
		}
		if rec.Doc.SICDescription != "" {
			org.Properties["industry"] = rec.Doc.SICDescription
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
		return nil
	})
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, err
	}
	return res, nil
}

// processOwnership emits OWNS from the filed-by party to the subject
// company, keyed by the filing accession.
func (a *Adapter) processOwnership(ctx context.Context, rec *OwnershipRecord) (ingest.ProcessResult, error) {
	res := ingest.ProcessResult{RecordID: rec.Accession}

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "edgar_ownership_filing",
			SourceURL:    archiveURLFor(rec.Header.Subject.CIK, rec.Accession),
			Source:       sourceName,
			ID:           rec.Accession,
			Ext:          "txt",
			ContentType:  "text/plain",
			Body:         rec.Raw,
		})
		if err != nil {
			return err
		}

		subject, err := a.upsertParty(ctx, rw, rec.Header.Subject)
		if err != nil {
			return err
		}
		holder, err := a.upsertParty(ctx, rw, rec.Header.FiledBy)
		if err != nil {
			return err
		}
		res.EntityID = subject.ID
		if subject.Created || holder.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		rel := model.NewRelationship(model.EdgeOwns, holder.ID, subject.ID)
		rel.Properties["filing_accession"] = rec.Accession
		rel.Properties["form_type"] = rec.Form
		rel.Properties["filing_date"] = rec.FiledAt
		if rec.Details.Percent > 0 {
			rel.Properties["ownership_percentage"] = rec.Details.Percent
		}
		if rec.Details.ShareClass != "" {
			rel.Properties["share_class"] = rec.Details.ShareClass
		}
		rel.EvidenceIDs = []string{evidenceID}
		if from := parseFilingDate(rec.FiledAt); from != nil {
			rel.ValidFrom = from
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

// processInsider emits DIRECTOR_OF or EMPLOYED_BY between the reporting
// owner and the issuer. Directors win when both flags are set.
func (a *Adapter) processInsider(ctx context.Context, rec *InsiderRecord) (ingest.ProcessResult, error) {
	res := ingest.ProcessResult{RecordID: rec.Accession}
	f := rec.Form4

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "edgar_form4",
			SourceURL:    archiveURLFor(f.IssuerCIK, rec.Accession),
			Source:       sourceName,
			ID:           rec.Accession,
			Ext:          "xml",
			ContentType:  "application/xml",
			Body:         rec.Raw,
		})
		if err != nil {
			return err
		}

		issuer, err := a.upsertParty(ctx, rw, FilingParty{Name: f.IssuerName, CIK: f.IssuerCIK})
		if err != nil {
			return err
		}

		ownerCIK, err := identifiers.NormalizeCIK(f.OwnerCIK)
		if err != nil {
			return model.NewValidationError("owner_cik", err.Error())
		}
		person := model.NewEntity(model.EntityPerson, f.OwnerName)
		person.SetExternalID(model.IDSecCikOwner, ownerCIK)
		personRes, err := rw.UpsertNode(ctx, person)
		if err != nil {
			return err
		}
		res.EntityID = personRes.ID
		if personRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		edgeType := model.EdgeEmployedBy
		title := f.OfficerTitle
		if f.IsDirector {
			edgeType = model.EdgeDirectorOf
			if title == "" {
				title = "Director"
			}
		}
		rel := model.NewRelationship(edgeType, personRes.ID, issuer.ID)
		rel.Properties["title"] = title
		rel.EvidenceIDs = []string{evidenceID}
		if from := parseFilingDate(rec.FiledAt); from != nil {
			rel.ValidFrom = from
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

func (a *Adapter) upsertParty(ctx context.Context, rw *graph.RecordWriter, party FilingParty) (graph.NodeResult, error) {
	cik, err := identifiers.NormalizeCIK(party.CIK)
	if err != nil {
		return graph.NodeResult{}, model.NewValidationError("cik", err.Error())
	}
	org := model.NewEntity(model.EntityOrganization, party.Name)
	org.SetExternalID(model.IDSecCik, cik)
	return rw.UpsertNode(ctx, org)
}

func archiveURLFor(cik, accession string) string {
	var cikNum int
	fmt.Sscanf(cik, "%d", &cikNum)
	return fmt.Sprintf(archivesURL, cikNum, accession)
}

func parseFilingDate(s string) *time.Time {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
