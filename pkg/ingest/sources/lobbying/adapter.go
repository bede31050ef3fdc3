// Package lobbying ingests Canadian lobbying registries (federal and
// provincial): registration ZIP exports joined with their side tables,
// emitting LOBBIES_FOR and LOBBIED edges keyed by registration id.
package lobbying

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

const (
	sourceName = "lobbying"
	federalURL = "https://lobbycanada.gc.ca/media/exports/registrations.zip"
)

// Registration types, per the registry's fixed code table.
const (
	TypeConsultant = "consultant"
	TypeInHouse    = "in_house"
)

// RegistrationType maps the registry's numeric type code. Code "1" is
// a consultant lobbyist, code "3" an in-house registration; other
// codes pass through empty.
func RegistrationType(code string) string {
	switch strings.TrimSpace(code) {
	case "1":
		return TypeConsultant
	case "3":
		return TypeInHouse
	default:
		return ""
	}
}

// Registration is one joined registration record.
type Registration struct {
	RegID        string   `json:"registration_id"`
	Type         string   `json:"type"`
	LobbyistName string   `json:"lobbyist_name"`
	ClientName   string   `json:"client_name"`
	Jurisdiction string   `json:"jurisdiction"`
	Effective    string   `json:"effective_date,omitempty"`
	End          string   `json:"end_date,omitempty"`
	Institutions []string `json:"institutions,omitempty"`
	Subjects     []string `json:"subject_matters,omitempty"`
}

// Adapter pulls registration export archives.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the lobbying adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch downloads the registration archive, joins the side tables, and
// emits one record per registration.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	url := cfg.String("export_url", federalURL)
	jurisdictionCode := strings.ToUpper(cfg.String("jurisdiction", "CA"))

	body, err := a.pipe.Client.GetBulk(ctx, url)
	if err != nil {
		return fmt.Errorf("registrations archive: %w", err)
	}
	regs, err := ParseArchive(body, jurisdictionCode)
	if err != nil {
		return err
	}
	ingest.Logger(ctx).Info("registrations parsed", "count", len(regs), "jurisdiction", jurisdictionCode)

	for _, reg := range regs {
		if !cfg.Targeted(reg.RegID, reg.ClientName, reg.LobbyistName) {
			continue
		}
		if err := emit(reg); err != nil {
			return err
		}
	}
	return nil
}

// ParseArchive reads the export ZIP: the primary registrations CSV plus
// the institutions and subject-matter side tables, joined by
// registration id.
func ParseArchive(raw []byte, jurisdictionCode string) ([]*Registration, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var primary, institutions, subjects []map[string]string
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		rows, err := readCSV(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		switch {
		case strings.Contains(name, "institution"):
			institutions = rows
		case strings.Contains(name, "subject"):
			subjects = rows
		case strings.Contains(name, "registration") || strings.Contains(name, "primary"):
			primary = rows
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("archive has no primary registrations csv")
	}

	instByReg := sideTable(institutions, "institution_name", "govt_institution", "institution")
	subjByReg := sideTable(subjects, "subject_matter", "subject")

	var regs []*Registration
	for _, row := range primary {
		regID := pick(row, "registration_id", "reg_id", "rgstrnt_num")
		if regID == "" {
			continue
		}
		regs = append(regs, &Registration{
			RegID:        regID,
			Type:         RegistrationType(pick(row, "registration_type", "type", "rgstrnt_type_cd")),
			LobbyistName: pick(row, "lobbyist_name", "registrant_name", "rgstrnt_nm"),
			ClientName:   pick(row, "client_name", "client_org_nm"),
			Jurisdiction: jurisdictionCode,
			Effective:    pick(row, "effective_date", "effective_date_vigueur"),
			End:          pick(row, "end_date", "end_date_fin"),
			Institutions: instByReg[regID],
			Subjects:     subjByReg[regID],
		})
	}
	return regs, nil
}

func readCSV(f *zip.File) ([]map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, err
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
			return nil, err
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

// sideTable groups side-table values by registration id.
func sideTable(rows []map[string]string, valueKeys ...string) map[string][]string {
	out := make(map[string][]string)
	for _, row := range rows {
		regID := pick(row, "registration_id", "reg_id", "rgstrnt_num")
		if regID == "" {
			continue
		}
		if v := pick(row, valueKeys...); v != "" {
			out[regID] = append(out[regID], v)
		}
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

// Process writes one registration: the lobbyist person, the client
// organization, LOBBIES_FOR between them, and one LOBBIED edge per
// government institution.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	reg, ok := record.(*Registration)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a lobbying registration")
	}
	res := ingest.ProcessResult{RecordID: reg.RegID}
	if reg.LobbyistName == "" || reg.ClientName == "" {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("registration", "registration missing lobbyist or client")
	}

	raw, err := json.Marshal(reg)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, fmt.Errorf("marshal registration: %w", err)
	}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "lobbying_registration",
			SourceURL:    federalURL,
			Source:       sourceName,
			ID:           reg.RegID,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         raw,
		})
		if err != nil {
			return err
		}

		lobbyist := model.NewEntity(model.EntityPerson, reg.LobbyistName)
		lobbyist.SetExternalID(model.IDOpencorpOfficer, lobbyistKey(reg.Jurisdiction, reg.LobbyistName))
		lobbyistRes, err := rw.UpsertNode(ctx, lobbyist)
		if err != nil {
			return err
		}
		res.EntityID = lobbyistRes.ID

		client := model.NewEntity(model.EntityOrganization, reg.ClientName)
		client.Properties["jurisdiction"] = reg.Jurisdiction
		clientRes, err := a.pipe.UpsertResolved(ctx, rw, client)
		if err != nil {
			return err
		}
		if lobbyistRes.Created || clientRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		lobbies := model.NewRelationship(model.EdgeLobbiesFor, lobbyistRes.ID, clientRes.ID)
		lobbies.Properties["registration_id"] = reg.RegID
		lobbies.Properties["jurisdiction"] = reg.Jurisdiction
		if reg.Type != "" {
			lobbies.Properties["registration_type"] = reg.Type
		}
		if len(reg.Subjects) > 0 {
			lobbies.Properties["subject_matters"] = reg.Subjects
		}
		lobbies.EvidenceIDs = []string{evidenceID}
		setValidity(lobbies, reg)
		if _, err := rw.UpsertEdge(ctx, lobbies); err != nil {
			return err
		}

		for _, inst := range reg.Institutions {
			gov := model.NewEntity(model.EntityGovernment, inst)
			gov.Properties["jurisdiction"] = reg.Jurisdiction
			govRes, err := rw.UpsertNode(ctx, gov)
			if err != nil {
				return err
			}
			lobbied := model.NewRelationship(model.EdgeLobbied, clientRes.ID, govRes.ID)
			lobbied.Properties["registration_id"] = reg.RegID
			lobbied.Properties["jurisdiction"] = reg.Jurisdiction
			if len(reg.Subjects) > 0 {
				lobbied.Properties["subject_matters"] = reg.Subjects
			}
			lobbied.EvidenceIDs = []string{evidenceID}
			setValidity(lobbied, reg)
			if _, err := rw.UpsertEdge(ctx, lobbied); err != nil {
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

func setValidity(rel *model.Relationship, reg *Registration) {
	if t, err := time.Parse("2006-01-02", reg.Effective); err == nil {
		rel.ValidFrom = &t
	}
	if t, err := time.Parse("2006-01-02", reg.End); err == nil {
		rel.ValidTo = &t
	}
}

// lobbyistKey scopes a lobbyist name to the registry jurisdiction.
func lobbyistKey(jurisdictionCode, name string) string {
	return "lobby:" + strings.ToLower(jurisdictionCode) + ":" + resolve.NormalizeName(name)
}
