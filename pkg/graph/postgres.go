package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/civiclens/mitds/pkg/model"
)

// PostgresStore implements Store on PostgreSQL. Nodes and edges live in
// graph_nodes / graph_edges; evidence rows commit in the same
// transaction as the writes they support. updated_at is stamped
// server-side (NOW()) so it is monotonic under one clock source.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and its schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS graph_nodes (
		id UUID PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		external_ids JSONB NOT NULL DEFAULT '{}',
		address JSONB,
		properties JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_graph_nodes_type ON graph_nodes (entity_type);
	CREATE INDEX IF NOT EXISTS idx_graph_nodes_ext ON graph_nodes USING GIN (external_ids);
	CREATE INDEX IF NOT EXISTS idx_graph_nodes_name ON graph_nodes (entity_type, LOWER(name));

	CREATE TABLE IF NOT EXISTS graph_edges (
		id UUID PRIMARY KEY,
		edge_type TEXT NOT NULL,
		source_id UUID NOT NULL REFERENCES graph_nodes(id),
		target_id UUID NOT NULL REFERENCES graph_nodes(id),
		merge_key TEXT NOT NULL,
		valid_from TIMESTAMPTZ,
		valid_to TIMESTAMPTZ,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		evidence_ids JSONB NOT NULL DEFAULT '[]',
		properties JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (edge_type, merge_key)
	);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges (source_id);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (target_id);

	CREATE TABLE IF NOT EXISTS evidence (
		id UUID PRIMARY KEY,
		evidence_type TEXT NOT NULL,
		source_url TEXT,
		retrieved_at TIMESTAMPTZ NOT NULL,
		extractor_name TEXT NOT NULL,
		extractor_version TEXT NOT NULL,
		raw_ref TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

type pgTx struct {
	tx *sql.Tx
}

// Begin opens the per-record transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

const nodeColumns = `id, entity_type, name, confidence, external_ids, address, properties, created_at, updated_at`

func (t *pgTx) FindNodeByExternalID(ctx context.Context, typ model.EntityType, idName, idValue string) (*model.Entity, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE entity_type = $1 AND external_ids->>$2 = $3 LIMIT 1`,
		string(typ), idName, idValue)
	return scanNode(row)
}

func (t *pgTx) FindNodeByName(ctx context.Context, typ model.EntityType, name, jurisdiction string) (*model.Entity, error) {
	if jurisdiction != "" {
		row := t.tx.QueryRowContext(ctx,
			`SELECT `+nodeColumns+` FROM graph_nodes
			 WHERE entity_type = $1 AND LOWER(name) = LOWER($2) AND LOWER(properties->>'jurisdiction') = LOWER($3) LIMIT 1`,
			string(typ), name, jurisdiction)
		return scanNode(row)
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE entity_type = $1 AND LOWER(name) = LOWER($2) LIMIT 1`,
		string(typ), name)
	return scanNode(row)
}

func (t *pgTx) InsertNode(ctx context.Context, e *model.Entity) error {
	extIDs, addr, props, err := marshalNodeJSON(e)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO graph_nodes (id, entity_type, name, confidence, external_ids, address, properties)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Type), e.Name, e.Confidence, extIDs, addr, props)
	return err
}

func (t *pgTx) UpdateNode(ctx context.Context, e *model.Entity) error {
	extIDs, addr, props, err := marshalNodeJSON(e)
	if err != nil {
		return err
	}
	// created_at is deliberately untouched; updated_at only advances.
	_, err = t.tx.ExecContext(ctx,
		`UPDATE graph_nodes SET name = $2, confidence = $3, external_ids = $4, address = $5, properties = $6,
		        updated_at = GREATEST(NOW(), updated_at)
		 WHERE id = $1`,
		e.ID, e.Name, e.Confidence, extIDs, addr, props)
	return err
}

const edgeColumns = `id, edge_type, source_id, target_id, valid_from, valid_to, confidence, evidence_ids, properties, created_at, updated_at`

func (t *pgTx) FindEdgeByMergeKey(ctx context.Context, typ model.EdgeType, mergeKey string) (*model.Relationship, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE edge_type = $1 AND merge_key = $2 LIMIT 1`,
		string(typ), mergeKey)
	return scanEdge(row)
}

func (t *pgTx) InsertEdge(ctx context.Context, rel *model.Relationship, mergeKey string) error {
	evIDs, props, err := marshalEdgeJSON(rel)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO graph_edges (id, edge_type, source_id, target_id, merge_key, valid_from, valid_to, confidence, evidence_ids, properties)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rel.ID, string(rel.Type), rel.SourceID, rel.TargetID, mergeKey,
		rel.ValidFrom, rel.ValidTo, rel.Confidence, evIDs, props)
	return err
}

func (t *pgTx) UpdateEdge(ctx context.Context, rel *model.Relationship) error {
	evIDs, props, err := marshalEdgeJSON(rel)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE graph_edges SET valid_from = $2, valid_to = $3, confidence = $4, evidence_ids = $5, properties = $6,
		        updated_at = GREATEST(NOW(), updated_at)
		 WHERE id = $1`,
		rel.ID, rel.ValidFrom, rel.ValidTo, rel.Confidence, evIDs, props)
	return err
}

func (t *pgTx) InsertEvidence(ctx context.Context, ev *model.Evidence) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO evidence (id, evidence_type, source_url, retrieved_at, extractor_name, extractor_version, raw_ref, content_hash, extraction_confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.Type, ev.SourceURL, ev.RetrievedAt,
		ev.Extractor.Name, ev.Extractor.Version, ev.RawRef, ev.ContentHash, ev.ExtractionConfidence)
	return err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

// GetNode returns a node by id.
func (s *PostgresStore) GetNode(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// NodesByType returns all nodes of a type.
func (s *PostgresStore) NodesByType(ctx context.Context, typ model.EntityType) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE entity_type = $1 ORDER BY name`, string(typ))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Entity
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// EdgesValidAt returns edges of a type valid at t (I6: nulls open).
func (s *PostgresStore) EdgesValidAt(ctx context.Context, typ model.EdgeType, t time.Time) ([]*model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE edge_type = $1
		   AND (valid_from IS NULL OR valid_from <= $2)
		   AND (valid_to IS NULL OR valid_to >= $2)`,
		string(typ), t)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEdges(rows)
}

// EdgesFrom returns outgoing edges of a node.
func (s *PostgresStore) EdgesFrom(ctx context.Context, nodeID string) ([]*model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE source_id = $1`, nodeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEdges(rows)
}

// OutDegree returns the count of outgoing edges of a node.
func (s *PostgresStore) OutDegree(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_edges WHERE source_id = $1`, nodeID).Scan(&n)
	return n, err
}

// FundingTuples projects FUNDED_BY edges into detector input.
func (s *PostgresStore) FundingTuples(ctx context.Context, f FundingFilter) ([]FundingTuple, error) {
	query := `
		SELECT e.source_id, e.target_id,
		       COALESCE((e.properties->>'amount')::DOUBLE PRECISION, 0),
		       COALESCE((e.properties->>'fiscal_year')::INT, 0)
		FROM graph_edges e
		JOIN graph_nodes r ON r.id = e.source_id
		WHERE e.edge_type = 'FUNDED_BY'
		  AND ($1 = '' OR r.entity_type = $1)
		  AND ($2 = 0 OR (e.properties->>'fiscal_year')::INT = $2)
		  AND COALESCE((e.properties->>'amount')::DOUBLE PRECISION, 0) >= $3`
	rows, err := s.db.QueryContext(ctx, query, string(f.EntityType), f.FiscalYear, f.MinAmount)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FundingTuple
	for rows.Next() {
		var ft FundingTuple
		if err := rows.Scan(&ft.RecipientID, &ft.FunderID, &ft.Amount, &ft.FiscalYear); err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

// Directors returns person ids with a current DIRECTOR_OF edge to org.
func (s *PostgresStore) Directors(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id FROM graph_edges
		 WHERE edge_type = 'DIRECTOR_OF' AND target_id = $1
		   AND (valid_from IS NULL OR valid_from <= NOW())
		   AND (valid_to IS NULL OR valid_to >= NOW())
		 ORDER BY source_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row *sql.Row) (*model.Entity, error) {
	n, err := scanNodeRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func scanNodeRows(r rowScanner) (*model.Entity, error) {
	var (
		n              model.Entity
		typ            string
		extIDs, props  []byte
		addr           sql.NullString
	)
	if err := r.Scan(&n.ID, &typ, &n.Name, &n.Confidence, &extIDs, &addr, &props, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Type = model.EntityType(typ)
	if err := json.Unmarshal(extIDs, &n.ExternalIDs); err != nil {
		return nil, fmt.Errorf("decode external_ids: %w", err)
	}
	if err := json.Unmarshal(props, &n.Properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	if addr.Valid && addr.String != "" && addr.String != "null" {
		var a model.Address
		if err := json.Unmarshal([]byte(addr.String), &a); err != nil {
			return nil, fmt.Errorf("decode address: %w", err)
		}
		n.Address = &a
	}
	return &n, nil
}

func scanEdge(row *sql.Row) (*model.Relationship, error) {
	e, err := scanEdgeRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanEdgeRows(r rowScanner) (*model.Relationship, error) {
	var (
		e            model.Relationship
		typ          string
		evIDs, props []byte
		vf, vt       sql.NullTime
	)
	if err := r.Scan(&e.ID, &typ, &e.SourceID, &e.TargetID, &vf, &vt, &e.Confidence, &evIDs, &props, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = model.EdgeType(typ)
	if vf.Valid {
		e.ValidFrom = &vf.Time
	}
	if vt.Valid {
		e.ValidTo = &vt.Time
	}
	if err := json.Unmarshal(evIDs, &e.EvidenceIDs); err != nil {
		return nil, fmt.Errorf("decode evidence_ids: %w", err)
	}
	if err := json.Unmarshal(props, &e.Properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return &e, nil
}

func collectEdges(rows *sql.Rows) ([]*model.Relationship, error) {
	var out []*model.Relationship
	for rows.Next() {
		e, err := scanEdgeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNodeJSON(e *model.Entity) (extIDs, addr, props []byte, err error) {
	extIDs, err = json.Marshal(orEmptyMap(e.ExternalIDs))
	if err != nil {
		return nil, nil, nil, err
	}
	props, err = json.Marshal(orEmptyAnyMap(e.Properties))
	if err != nil {
		return nil, nil, nil, err
	}
	if e.Address != nil {
		addr, err = json.Marshal(e.Address)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return extIDs, addr, props, nil
}

func marshalEdgeJSON(rel *model.Relationship) (evIDs, props []byte, err error) {
	ids := rel.EvidenceIDs
	if ids == nil {
		ids = []string{}
	}
	evIDs, err = json.Marshal(ids)
	if err != nil {
		return nil, nil, err
	}
	props, err = json.Marshal(orEmptyAnyMap(rel.Properties))
	if err != nil {
		return nil, nil, err
	}
	return evIDs, props, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
