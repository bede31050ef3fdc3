// Package googleads ingests the Google political ads transparency
// dataset via parameterized BigQuery SQL over the REST API. The graph
// shape mirrors the Meta adapter; only the identifiers differ.
package googleads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

const (
	sourceName = "google_ads"
	platform   = "google"
	queryURL   = "https://bigquery.googleapis.com/bigquery/v2/projects/%s/queries"

	// creativeStatsQuery pulls per-creative rows for one region. The
	// region is a named parameter, never interpolated.
	creativeStatsQuery = `
SELECT ad_id, advertiser_id, advertiser_name, ad_type,
       date_range_start, date_range_end,
       spend_range_min_usd, spend_range_max_usd,
       impressions
FROM ` + "`bigquery-public-data.google_political_ads.creative_stats`" + `
WHERE regions LIKE CONCAT('%', @region, '%')`
)

// Creative is one creative_stats row.
type Creative struct {
	AdID           string `json:"ad_id"`
	AdvertiserID   string `json:"advertiser_id"`
	AdvertiserName string `json:"advertiser_name"`
	AdType         string `json:"ad_type"`
	DateRangeStart string `json:"date_range_start"`
	DateRangeEnd   string `json:"date_range_end"`
	SpendMinUSD    string `json:"spend_range_min_usd"`
	SpendMaxUSD    string `json:"spend_range_max_usd"`
	Impressions    string `json:"impressions"`
	Region         string `json:"region"`
}

// Adapter queries the public dataset through a caller-owned project.
type Adapter struct {
	pipe    *ingest.Pipeline
	project string
	token   string
}

// New creates the Google ads adapter. project is the billing project
// for BigQuery jobs; token is an OAuth bearer token.
func New(pipe *ingest.Pipeline, project, token string) *Adapter {
	return &Adapter{pipe: pipe, project: project, token: token}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// queryRequest is the BigQuery jobs.query payload.
type queryRequest struct {
	Query           string       `json:"query"`
	UseLegacySQL    bool         `json:"useLegacySql"`
	ParameterMode   string       `json:"parameterMode"`
	QueryParameters []queryParam `json:"queryParameters"`
	MaxResults      int          `json:"maxResults,omitempty"`
}

type queryParam struct {
	Name          string `json:"name"`
	ParameterType struct {
		Type string `json:"type"`
	} `json:"parameterType"`
	ParameterValue struct {
		Value string `json:"value"`
	} `json:"parameterValue"`
}

// queryResponse is the subset of the jobs.query result we consume.
type queryResponse struct {
	Schema struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	PageToken   string `json:"pageToken"`
	JobComplete bool   `json:"jobComplete"`
}

// Fetch runs the creative_stats query for the configured region
// (default 'CA') and emits one record per row.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	region := strings.ToUpper(cfg.String("region", "CA"))

	param := queryParam{Name: "region"}
	param.ParameterType.Type = "STRING"
	param.ParameterValue.Value = region
	payload, err := json.Marshal(queryRequest{
		Query:           creativeStatsQuery,
		UseLegacySQL:    false,
		ParameterMode:   "NAMED",
		QueryParameters: []queryParam{param},
		MaxResults:      1000,
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	body, err := a.pipe.Client.PostJSON(ctx, fmt.Sprintf(queryURL, a.project), payload, map[string]string{
		"Authorization": "Bearer " + a.token,
	})
	if err != nil {
		return fmt.Errorf("bigquery query: %w", err)
	}

	creatives, err := decodeRows(body)
	if err != nil {
		return err
	}
	ingest.Logger(ctx).Info("creative_stats rows", "region", region, "rows", len(creatives))

	for _, c := range creatives {
		if !cfg.Targeted(c.AdvertiserID, c.AdvertiserName) {
			continue
		}
		c.Region = region
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

// decodeRows flattens BigQuery's schema+rows envelope into creatives.
func decodeRows(body []byte) ([]*Creative, error) {
	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	cols := make([]string, len(resp.Schema.Fields))
	for i, f := range resp.Schema.Fields {
		cols[i] = f.Name
	}

	var out []*Creative
	for _, row := range resp.Rows {
		m := make(map[string]string, len(cols))
		for i, cell := range row.F {
			if i >= len(cols) {
				break
			}
			if s, ok := cell.V.(string); ok {
				m[cols[i]] = s
			}
		}
		out = append(out, &Creative{
			AdID:           m["ad_id"],
			AdvertiserID:   m["advertiser_id"],
			AdvertiserName: m["advertiser_name"],
			AdType:         m["ad_type"],
			DateRangeStart: m["date_range_start"],
			DateRangeEnd:   m["date_range_end"],
			SpendMinUSD:    m["spend_range_min_usd"],
			SpendMaxUSD:    m["spend_range_max_usd"],
			Impressions:    m["impressions"],
		})
	}
	return out, nil
}

// Process writes the Ad, the advertiser Sponsor, and SPONSORED_BY.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	creative, ok := record.(*Creative)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a google creative record")
	}
	res := ingest.ProcessResult{RecordID: creative.AdID}
	if creative.AdID == "" {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("ad_id", "creative has no ad_id")
	}

	raw, err := json.Marshal(creative)
	if err != nil {
		res.Action = ingest.ActionFailed
		return res, fmt.Errorf("marshal creative: %w", err)
	}

	err = a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "google_political_ad",
			SourceURL:    fmt.Sprintf("https://adstransparency.google.com/advertiser/%s/creative/%s", creative.AdvertiserID, creative.AdID),
			Source:       sourceName,
			ID:           creative.AdID,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         raw,
		})
		if err != nil {
			return err
		}

		adNode := model.NewEntity(model.EntityAd, platform+" ad "+creative.AdID)
		adNode.SetExternalID("platform_ad_key", graph.AdMergeKey(platform, creative.AdID))
		adNode.Properties["platform"] = platform
		adNode.Properties["platform_ad_id"] = creative.AdID
		if creative.AdType != "" {
			adNode.Properties["ad_type"] = creative.AdType
		}
		adRes, err := rw.UpsertNode(ctx, adNode)
		if err != nil {
			return err
		}
		res.EntityID = adRes.ID
		if adRes.Created {
			res.Action = ingest.ActionCreated
		} else {
			res.Action = ingest.ActionDuplicate
		}

		sponsor := model.NewEntity(model.EntitySponsor, creative.AdvertiserName)
		if creative.AdvertiserID != "" {
			sponsor.SetExternalID("google_advertiser_id", creative.AdvertiserID)
		}
		sponsorRes, err := a.pipe.UpsertResolved(ctx, rw, sponsor)
		if err != nil {
			return err
		}

		rel := model.NewRelationship(model.EdgeSponsoredBy, adRes.ID, sponsorRes.ID)
		rel.Properties["spend_lower"] = creative.SpendMinUSD
		rel.Properties["spend_upper"] = creative.SpendMaxUSD
		rel.Properties["currency"] = "USD"
		if creative.Region != "" {
			rel.Properties["country"] = creative.Region
		}
		if creative.Impressions != "" {
			rel.Properties["impressions"] = creative.Impressions
		}
		rel.EvidenceIDs = []string{evidenceID}
		if from := parseDate(creative.DateRangeStart); from != nil {
			rel.ValidFrom = from
		}
		if to := parseDate(creative.DateRangeEnd); to != nil {
			rel.ValidTo = to
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

func parseDate(s string) *time.Time {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
