// Package littlesis ingests the LittleSis relationship API: board
// positions, employment, donations and ownership stakes around the
// configured seed entities.
package littlesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

const (
	sourceName = "littlesis"
	apiBase    = "https://littlesis.org/api"
)

// LittleSis relationship category ids.
const (
	categoryPosition  = 1
	categoryEducation = 2
	categoryDonation  = 5
	categoryOwnership = 10
)

// APIEntity is one LittleSis entity reference.
type APIEntity struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Types string `json:"primary_ext"` // "Person" or "Org"
}

// Relationship is one LittleSis relationship row.
type Relationship struct {
	ID          int        `json:"id"`
	CategoryID  int        `json:"category_id"`
	Description string     `json:"description1"`
	IsBoard     bool       `json:"is_board"`
	Amount      float64    `json:"amount"`
	StartDate   string     `json:"start_date"`
	EndDate     string     `json:"end_date"`
	Entity1     *APIEntity `json:"entity1"`
	Entity2     *APIEntity `json:"entity2"`
	Raw         []byte     `json:"-"`
}

type relationshipsPage struct {
	Data []struct {
		ID         int `json:"id"`
		Attributes struct {
			CategoryID  int     `json:"category_id"`
			Description string  `json:"description1"`
			IsBoard     bool    `json:"is_board"`
			Amount      float64 `json:"amount"`
			StartDate   string  `json:"start_date"`
			EndDate     string  `json:"end_date"`
			Entity1ID   int     `json:"entity1_id"`
			Entity2ID   int     `json:"entity2_id"`
		} `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Pages int `json:"pages"`
	} `json:"meta"`
}

type entityDoc struct {
	Data struct {
		ID         int `json:"id"`
		Attributes struct {
			Name       string `json:"name"`
			PrimaryExt string `json:"primary_ext"`
		} `json:"attributes"`
	} `json:"data"`
}

// Adapter walks relationships around seed entity ids.
type Adapter struct {
	pipe *ingest.Pipeline
}

// New creates the LittleSis adapter.
func New(pipe *ingest.Pipeline) *Adapter {
	return &Adapter{pipe: pipe}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// Fetch pulls each seed entity's relationship pages and emits one
// record per relationship, with both endpoints resolved.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)
	seeds := cfg.Strings("entity_ids")
	if len(seeds) == 0 {
		seeds = cfg.TargetEntities
	}
	if len(seeds) == 0 {
		return model.NewValidationError("entity_ids", "littlesis runs need entity_ids or target_entities")
	}

	entities := make(map[int]*APIEntity)
	for _, seed := range seeds {
		id, err := strconv.Atoi(strings.TrimSpace(seed))
		if err != nil {
			logger.Warn("skipping non-numeric entity id", "id", seed)
			continue
		}
		for page := 1; ; page++ {
			body, err := a.pipe.Client.Get(ctx, fmt.Sprintf("%s/entities/%d/relationships?page=%d", apiBase, id, page))
			if err != nil {
				return fmt.Errorf("littlesis relationships %d: %w", id, err)
			}
			var parsed relationshipsPage
			if err := json.Unmarshal(body, &parsed); err != nil {
				return fmt.Errorf("decode relationships: %w", err)
			}
			for _, row := range parsed.Data {
				e1, err := a.entity(ctx, entities, row.Attributes.Entity1ID)
				if err != nil {
					return err
				}
				e2, err := a.entity(ctx, entities, row.Attributes.Entity2ID)
				if err != nil {
					return err
				}
				raw, _ := json.Marshal(row)
				rel := &Relationship{
					ID:          row.ID,
					CategoryID:  row.Attributes.CategoryID,
					Description: row.Attributes.Description,
					IsBoard:     row.Attributes.IsBoard,
					Amount:      row.Attributes.Amount,
					StartDate:   row.Attributes.StartDate,
					EndDate:     row.Attributes.EndDate,
					Entity1:     e1,
					Entity2:     e2,
					Raw:         raw,
				}
				if err := emit(rel); err != nil {
					return err
				}
			}
			if page >= parsed.Meta.Pages {
				break
			}
		}
	}
	return nil
}

func (a *Adapter) entity(ctx context.Context, cache map[int]*APIEntity, id int) (*APIEntity, error) {
	if e, ok := cache[id]; ok {
		return e, nil
	}
	body, err := a.pipe.Client.Get(ctx, fmt.Sprintf("%s/entities/%d", apiBase, id))
	if err != nil {
		return nil, fmt.Errorf("littlesis entity %d: %w", id, err)
	}
	var doc entityDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode entity %d: %w", id, err)
	}
	e := &APIEntity{ID: doc.Data.ID, Name: doc.Data.Attributes.Name, Types: doc.Data.Attributes.PrimaryExt}
	cache[id] = e
	return e, nil
}

// Process maps one LittleSis relationship onto the graph. Positions
// become DIRECTOR_OF or EMPLOYED_BY, donations FUNDED_BY, ownership
// OWNS. Education and other categories are skipped.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	rel, ok := record.(*Relationship)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a littlesis relationship")
	}
	res := ingest.ProcessResult{RecordID: strconv.Itoa(rel.ID)}
	if rel.Entity1 == nil || rel.Entity2 == nil {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("endpoints", "relationship missing endpoints")
	}

	var edgeType model.EdgeType
	switch rel.CategoryID {
	case categoryPosition:
		if rel.IsBoard {
			edgeType = model.EdgeDirectorOf
		} else {
			edgeType = model.EdgeEmployedBy
		}
	case categoryDonation:
		edgeType = model.EdgeFundedBy
	case categoryOwnership:
		edgeType = model.EdgeOwns
	default:
		res.Action = ingest.ActionSkipped
		return res, nil
	}

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "littlesis_relationship",
			SourceURL:    fmt.Sprintf("https://littlesis.org/relationships/%d", rel.ID),
			Source:       sourceName,
			ID:           strconv.Itoa(rel.ID),
			Ext:          "json",
			ContentType:  "application/json",
			Body:         rel.Raw,
		})
		if err != nil {
			return err
		}

		n1, err := a.upsertEntity(ctx, rw, rel.Entity1)
		if err != nil {
			return err
		}
		n2, err := a.upsertEntity(ctx, rw, rel.Entity2)
		if err != nil {
			return err
		}
		res.EntityID = n1.ID
		if n1.Created || n2.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionUpdated
		}

		src, tgt := n1.ID, n2.ID
		if edgeType == model.EdgeFundedBy {
			// entity1 donated to entity2: the recipient is funded by
			// the donor.
			src, tgt = n2.ID, n1.ID
		}
		edge := model.NewRelationship(edgeType, src, tgt)
		edge.EvidenceIDs = []string{evidenceID}
		switch edgeType {
		case model.EdgeDirectorOf, model.EdgeEmployedBy:
			edge.Properties["title"] = rel.Description
		case model.EdgeFundedBy:
			if rel.Amount > 0 {
				edge.Properties["amount"] = rel.Amount
			}
			edge.Properties["fiscal_year"] = yearOf(rel.StartDate)
			edge.Properties["currency"] = "USD"
		case model.EdgeOwns:
			edge.Properties["filing_accession"] = "littlesis-" + strconv.Itoa(rel.ID)
		}
		_, err = rw.UpsertEdge(ctx, edge)
		return err
	})
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, err
	}
	return res, nil
}

func (a *Adapter) upsertEntity(ctx context.Context, rw *graph.RecordWriter, e *APIEntity) (graph.NodeResult, error) {
	typ := model.EntityOrganization
	if strings.EqualFold(e.Types, "Person") {
		typ = model.EntityPerson
	}
	node := model.NewEntity(typ, e.Name)
	node.SetExternalID(model.IDLittleSisID, strconv.Itoa(e.ID))
	if typ == model.EntityOrganization {
		return a.pipe.UpsertResolved(ctx, rw, node)
	}
	return rw.UpsertNode(ctx, node)
}

func yearOf(date string) int {
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			return y
		}
	}
	return 0
}
