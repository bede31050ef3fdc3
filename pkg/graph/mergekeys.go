// Package graph is the write layer of the influence graph: typed,
// idempotent upsert of nodes and edges with per-type merge keys,
// temporal bounds, and evidence links. All writes for one source
// record commit in one transaction.
package graph

import (
	"fmt"
	"strings"

	"github.com/civiclens/mitds/pkg/model"
)

// nodeKeyPriority lists, per entity type, the external identifiers that
// act as merge keys, in lookup order. The first identifier present on
// an observation decides node identity; (name, jurisdiction) or bare
// name is the fallback for types that allow it.
var nodeKeyPriority = map[model.EntityType][]string{
	model.EntityOrganization: {model.IDEin, model.IDBn, model.IDSecCik, model.IDCanadaCorpNum, model.IDMetaPageID},
	model.EntityPerson:       {model.IDIrs990Name, model.IDOpencorpOfficer, model.IDSecCik},
	model.EntityOutlet:       {model.IDPrimaryDomain},
	model.EntitySponsor:      {model.IDMetaPageID},
}

// NodeKeyIdentifiers returns the merge-key identifier names for a type.
func NodeKeyIdentifiers(typ model.EntityType) []string {
	return nodeKeyPriority[typ]
}

// AdMergeKey is the (platform, platform_ad_id) composite key for Ad
// nodes, stored as a single external id.
func AdMergeKey(platform, platformAdID string) string {
	return strings.ToLower(platform) + ":" + platformAdID
}

// EdgeMergeKey computes the canonical merge key for an edge. The key
// embeds endpoint ids (order-normalized for undirected types) plus the
// type-specific discriminator from §edge contracts:
//
//	FUNDED_BY            (source, target, fiscal_year)
//	DIRECTOR_OF          (source, target, title)
//	EMPLOYED_BY          (source, target, title)
//	OWNS                 (source, target, filing_accession)
//	SPONSORED_BY         (source, target)
//	SHARED_INFRA         unordered (source, target)
//	LOBBIES_FOR, LOBBIED registration_id
//	BENEFICIAL_OWNER_OF  (source, target)
//	CONTRIBUTED_TO       (source, target, date_received)
//
// Any other type keys on the endpoint pair.
func EdgeMergeKey(rel *model.Relationship) string {
	src, tgt := rel.SourceID, rel.TargetID
	if rel.Type.Undirected() && tgt < src {
		src, tgt = tgt, src
	}

	switch rel.Type {
	case model.EdgeFundedBy:
		return key(rel.Type, src, tgt, propString(rel, "fiscal_year"))
	case model.EdgeDirectorOf, model.EdgeEmployedBy:
		return key(rel.Type, src, tgt, strings.ToLower(propString(rel, "title")))
	case model.EdgeOwns:
		return key(rel.Type, src, tgt, propString(rel, "filing_accession"))
	case model.EdgeLobbiesFor:
		return key(rel.Type, "reg", propString(rel, "registration_id"))
	case model.EdgeLobbied:
		// One registration may name several institutions; the key keeps
		// the endpoint pair so those stay distinct edges.
		return key(rel.Type, src, tgt, propString(rel, "registration_id"))
	case model.EdgeContributedTo:
		return key(rel.Type, src, tgt, propString(rel, "date_received"))
	default:
		return key(rel.Type, src, tgt)
	}
}

func key(typ model.EdgeType, parts ...string) string {
	return string(typ) + "|" + strings.Join(parts, "|")
}

func propString(rel *model.Relationship, name string) string {
	if rel.Properties == nil {
		return ""
	}
	switch v := rel.Properties[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
