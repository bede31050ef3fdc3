// Package model defines the shared data model of the MITDS core:
// graph entities and relationships, evidence records, ingestion runs,
// and the error surface projected by the API layer.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType labels a graph node.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityPerson       EntityType = "person"
	EntityOutlet       EntityType = "outlet"
	EntitySponsor      EntityType = "sponsor"
	EntityAd           EntityType = "ad"
	EntityGovernment   EntityType = "government"
	EntityVendor       EntityType = "vendor"
	EntityDomain       EntityType = "domain"
)

// OrgType classifies an organization.
type OrgType string

const (
	OrgCorporation OrgType = "corporation"
	OrgNonprofit   OrgType = "nonprofit"
	OrgGovernment  OrgType = "government"
	OrgUnknown     OrgType = "unknown"
)

// OrgStatus is the registry status of an organization.
type OrgStatus string

const (
	StatusActive   OrgStatus = "active"
	StatusInactive OrgStatus = "inactive"
	StatusRevoked  OrgStatus = "revoked"
	StatusUnknown  OrgStatus = "unknown"
)

// MediaType classifies an outlet's primary medium.
type MediaType string

const (
	MediaDigital   MediaType = "digital"
	MediaPrint     MediaType = "print"
	MediaBroadcast MediaType = "broadcast"
	MediaSocial    MediaType = "social"
	MediaMixed     MediaType = "mixed"
)

// Address is a structured postal address. All fields are optional.
type Address struct {
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"` // state or province
	Postal   string `json:"postal,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Entity is a node in the influence graph. Type-specific attributes live
// in Properties; only fields shared by every variant are promoted.
type Entity struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"entity_type"`
	Name        string            `json:"name"`
	Confidence  float64           `json:"confidence"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Address     *Address          `json:"address,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
}

// NewEntity creates an entity with a fresh id and the shared defaults.
func NewEntity(typ EntityType, name string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:          uuid.New().String(),
		Type:        typ,
		Name:        name,
		Confidence:  1.0,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExternalIDs: make(map[string]string),
		Properties:  make(map[string]any),
	}
}

// ExternalID returns the named identifier, or "" when absent.
func (e *Entity) ExternalID(name string) string {
	if e.ExternalIDs == nil {
		return ""
	}
	return e.ExternalIDs[name]
}

// SetExternalID records an identifier on the entity.
func (e *Entity) SetExternalID(name, value string) {
	if e.ExternalIDs == nil {
		e.ExternalIDs = make(map[string]string)
	}
	e.ExternalIDs[name] = value
}

// Well-known external identifier names. Adapters and the resolver agree
// on these keys; the graph writer uses them as node merge keys.
const (
	IDEin             = "ein"             // IRS employer identification number
	IDBn              = "bn"              // CRA business number
	IDSecCik          = "sec_cik"         // SEC central index key
	IDCanadaCorpNum   = "canada_corp_num" // ISED corporation number
	IDMetaPageID      = "meta_page_id"    // Meta page id
	IDIrs990Name      = "irs_990_name"    // Part VII officer name key
	IDOpencorpOfficer = "opencorp_officer_id"
	IDSecCikOwner     = "sec_cik_owner"
	IDLittleSisID     = "littlesis_id"
	IDOpencorpCompany = "opencorp_company_id"
	IDRegistrationID  = "registration_id" // lobbying registration
	IDPrimaryDomain   = "primary_domain"  // outlet domain
)
