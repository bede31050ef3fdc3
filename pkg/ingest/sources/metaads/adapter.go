// Package metaads ingests the Meta Ad Library API: one Ad node per
// returned ad, its Sponsor page, and a SPONSORED_BY edge carrying the
// reported spend and impression ranges.
package metaads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
)

const (
	sourceName = "meta_ads"
	apiURL     = "https://graph.facebook.com/v18.0/ads_archive"
	platform   = "meta"

	adFields = "id,page_id,page_name,ad_creative_bodies,ad_delivery_start_time,ad_delivery_stop_time,spend,impressions,currency,publisher_platforms"
)

// Ad is one Ad Library result.
type Ad struct {
	ID                  string      `json:"id"`
	PageID              string      `json:"page_id"`
	PageName            string      `json:"page_name"`
	CreativeBodies      []string    `json:"ad_creative_bodies"`
	DeliveryStart       string      `json:"ad_delivery_start_time"`
	DeliveryStop        string      `json:"ad_delivery_stop_time"`
	Spend               *boundRange `json:"spend"`
	Impressions         *boundRange `json:"impressions"`
	Currency            string      `json:"currency"`
	PublisherPlatforms  []string    `json:"publisher_platforms"`
}

// boundRange is the API's lower/upper bucket shape.
type boundRange struct {
	LowerBound string `json:"lower_bound"`
	UpperBound string `json:"upper_bound"`
}

type apiPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Adapter pulls paginated Ad Library results.
type Adapter struct {
	pipe  *ingest.Pipeline
	token string
}

// New creates the Meta Ads adapter with an API access token.
func New(pipe *ingest.Pipeline, token string) *Adapter {
	return &Adapter{pipe: pipe, token: token}
}

// Name implements ingest.Adapter.
func (a *Adapter) Name() string { return sourceName }

// BuildQuery validates the run config into the first request URL. The
// API requires exactly one of search_terms or search_page_ids.
func (a *Adapter) BuildQuery(cfg ingest.RunConfig) (string, error) {
	terms := cfg.String("search_terms", "")
	pageIDs := cfg.Strings("search_page_ids")
	if (terms == "") == (len(pageIDs) == 0) {
		return "", model.NewValidationError("search", "exactly one of search_terms or search_page_ids is required")
	}

	q := url.Values{}
	q.Set("access_token", a.token)
	q.Set("fields", adFields)
	q.Set("ad_reached_countries", reachedCountry(cfg))
	q.Set("ad_type", "POLITICAL_AND_ISSUE_ADS")
	q.Set("limit", "250")
	if terms != "" {
		q.Set("search_terms", terms)
	} else {
		q.Set("search_page_ids", strings.Join(pageIDs, ","))
	}
	if cfg.DateFrom != nil {
		q.Set("ad_delivery_date_min", cfg.DateFrom.Format("2006-01-02"))
	}
	if cfg.DateTo != nil {
		q.Set("ad_delivery_date_max", cfg.DateTo.Format("2006-01-02"))
	}
	return apiURL + "?" + q.Encode(), nil
}

// reachedCountry is the ad_reached_countries filter the run queries.
func reachedCountry(cfg ingest.RunConfig) string {
	return strings.ToUpper(cfg.String("country", "CA"))
}

// Fetch walks the paginated result set, one emitted record per ad.
func (a *Adapter) Fetch(ctx context.Context, cfg ingest.RunConfig, emit ingest.EmitFunc) error {
	logger := ingest.Logger(ctx)
	next, err := a.BuildQuery(cfg)
	if err != nil {
		return err
	}

	country := reachedCountry(cfg)
	pages := 0
	for next != "" {
		body, err := a.pipe.Client.Get(ctx, next)
		if err != nil {
			return fmt.Errorf("ad library page %d: %w", pages+1, err)
		}
		var page apiPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode ad library page: %w", err)
		}
		pages++
		logger.Info("ad library page", "page", pages, "ads", len(page.Data))

		for _, raw := range page.Data {
			var ad Ad
			if err := json.Unmarshal(raw, &ad); err != nil {
				// One bad element; the record carries the raw payload so
				// processing can still book the failure.
				ad = Ad{}
			}
			if err := emit(&Record{Ad: ad, Country: country, Raw: raw}); err != nil {
				return err
			}
		}
		next = page.Paging.Next
	}
	return nil
}

// Record pairs a parsed ad with its raw API element and the country
// the run queried.
type Record struct {
	Ad      Ad
	Country string
	Raw     json.RawMessage
}

// Process writes the Ad node, its Sponsor, and the SPONSORED_BY edge.
func (a *Adapter) Process(ctx context.Context, record any) (ingest.ProcessResult, error) {
	rec, ok := record.(*Record)
	if !ok {
		return ingest.ProcessResult{}, model.NewValidationError("record", "not a meta ad record")
	}
	ad := rec.Ad
	res := ingest.ProcessResult{RecordID: ad.ID}
	if ad.ID == "" {
		res.Action = ingest.ActionFailed
		return res, model.NewValidationError("id", "ad has no id")
	}

	err := a.pipe.Writer.WriteRecord(ctx, func(ctx context.Context, rw *graph.RecordWriter) error {
		evidenceID, err := a.pipe.RecordEvidence(ctx, rw, provenance.RecordRequest{
			EvidenceType: "meta_ad",
			SourceURL:    fmt.Sprintf("https://www.facebook.com/ads/library/?id=%s", ad.ID),
			Source:       sourceName,
			ID:           ad.ID,
			Ext:          "json",
			ContentType:  "application/json",
			Body:         rec.Raw,
		})
		if err != nil {
			return err
		}

		adNode := model.NewEntity(model.EntityAd, adName(ad))
		adNode.SetExternalID("platform_ad_key", graph.AdMergeKey(platform, ad.ID))
		adNode.Properties["platform"] = platform
		adNode.Properties["platform_ad_id"] = ad.ID
		if len(ad.CreativeBodies) > 0 {
			adNode.Properties["creative_body"] = ad.CreativeBodies[0]
		}
		if len(ad.PublisherPlatforms) > 0 {
			adNode.Properties["publisher_platforms"] = ad.PublisherPlatforms
		}
		if t := parseAdTime(ad.DeliveryStart); t != nil {
			adNode.Properties["delivery_start"] = t.Format(time.RFC3339)
		}
		if t := parseAdTime(ad.DeliveryStop); t != nil {
			adNode.Properties["delivery_stop"] = t.Format(time.RFC3339)
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

		sponsor := model.NewEntity(model.EntitySponsor, ad.PageName)
		sponsor.SetExternalID(model.IDMetaPageID, ad.PageID)
		sponsorRes, err := rw.UpsertNode(ctx, sponsor)
		if err != nil {
			return err
		}

		rel := model.NewRelationship(model.EdgeSponsoredBy, adRes.ID, sponsorRes.ID)
		if ad.Spend != nil {
			rel.Properties["spend_lower"] = ad.Spend.LowerBound
			rel.Properties["spend_upper"] = ad.Spend.UpperBound
		}
		if ad.Impressions != nil {
			rel.Properties["impressions_lower"] = ad.Impressions.LowerBound
			rel.Properties["impressions_upper"] = ad.Impressions.UpperBound
		}
		if ad.Currency != "" {
			rel.Properties["currency"] = ad.Currency
		}
		if rec.Country != "" {
			rel.Properties["country"] = rec.Country
		}
		rel.EvidenceIDs = []string{evidenceID}
		if from := parseAdTime(ad.DeliveryStart); from != nil {
			rel.ValidFrom = from
		}
		if to := parseAdTime(ad.DeliveryStop); to != nil {
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

func adName(ad Ad) string {
	if len(ad.CreativeBodies) > 0 {
		body := ad.CreativeBodies[0]
		if len(body) > 80 {
			body = body[:80]
		}
		return body
	}
	return platform + " ad " + ad.ID
}

func parseAdTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
