package secedgar

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FilingParty is one company block from an SGML filing header.
type FilingParty struct {
	Name string
	CIK  string
}

// FilingHeader carries the Subject vs. Filed-by roles of a 13D/13G.
// The subject is the company whose shares are held; the filer is the
// holder.
type FilingHeader struct {
	Subject FilingParty
	FiledBy FilingParty
}

// ParseFilingHeader extracts SUBJECT COMPANY and FILED BY blocks from
// an EDGAR SGML header. The header is line-oriented: a role line opens
// a block and the following COMPANY CONFORMED NAME / CENTRAL INDEX KEY
// lines belong to it.
func ParseFilingHeader(raw []byte) (*FilingHeader, error) {
	var header FilingHeader
	var current *FilingParty

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "SUBJECT COMPANY"):
			current = &header.Subject
		case strings.HasPrefix(line, "FILED BY"):
			current = &header.FiledBy
		case strings.HasPrefix(line, "REPORTING-OWNER"), strings.HasPrefix(line, "ISSUER"):
			current = nil
		case current != nil && strings.HasPrefix(line, "COMPANY CONFORMED NAME:"):
			current.Name = strings.TrimSpace(strings.TrimPrefix(line, "COMPANY CONFORMED NAME:"))
		case current != nil && strings.HasPrefix(line, "CENTRAL INDEX KEY:"):
			current.CIK = strings.TrimSpace(strings.TrimPrefix(line, "CENTRAL INDEX KEY:"))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan header: %w", err)
	}
	if header.Subject.CIK == "" || header.FiledBy.CIK == "" {
		return nil, fmt.Errorf("header missing subject or filed-by block")
	}
	return &header, nil
}

var (
	percentOfClassRe = regexp.MustCompile(`(?is)percent of class represented by amount[^%]*?([0-9]+(?:\.[0-9]+)?)\s*%`)
	shareClassRe     = regexp.MustCompile(`(?i)title of class of securities[:\s]*([^\n(<]+)`)
)

// OwnershipDetails carries the stake figures stated on a 13D/G cover
// page.
type OwnershipDetails struct {
	Percent    float64
	ShareClass string
}

// ParseOwnershipDetails scans the 13D/G body for the percent of class
// and the security title. Cover pages are free text, so both are best
// effort: zero values mean the filing did not state them.
func ParseOwnershipDetails(raw []byte) OwnershipDetails {
	var d OwnershipDetails
	if m := percentOfClassRe.FindSubmatch(raw); m != nil {
		d.Percent, _ = strconv.ParseFloat(string(m[1]), 64)
	}
	if m := shareClassRe.FindSubmatch(raw); m != nil {
		d.ShareClass = strings.Trim(string(m[1]), " \t\r.")
	}
	return d
}

// Form4 is the ownership document inside a Form 4 filing.
type Form4 struct {
	IssuerCIK    string
	IssuerName   string
	OwnerCIK     string
	OwnerName    string
	IsDirector   bool
	IsOfficer    bool
	OfficerTitle string
}

type ownershipDocument struct {
	XMLName xml.Name `xml:"ownershipDocument"`
	Issuer  struct {
		CIK  string `xml:"issuerCik"`
		Name string `xml:"issuerName"`
	} `xml:"issuer"`
	ReportingOwner struct {
		ID struct {
			CIK  string `xml:"rptOwnerCik"`
			Name string `xml:"rptOwnerName"`
		} `xml:"reportingOwnerId"`
		Relationship struct {
			IsDirector   string `xml:"isDirector"`
			IsOfficer    string `xml:"isOfficer"`
			OfficerTitle string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
}

// ParseForm4 decodes the ownershipDocument XML. Form 4 filings arrive
// as SGML wrappers around an embedded XML document; the decoder scans
// forward to the XML island.
func ParseForm4(raw []byte) (*Form4, error) {
	start := bytes.Index(raw, []byte("<ownershipDocument"))
	if start < 0 {
		return nil, fmt.Errorf("no ownershipDocument element")
	}
	end := bytes.Index(raw[start:], []byte("</ownershipDocument>"))
	if end < 0 {
		return nil, fmt.Errorf("unterminated ownershipDocument element")
	}
	island := raw[start : start+end+len("</ownershipDocument>")]

	var doc ownershipDocument
	if err := xml.Unmarshal(island, &doc); err != nil {
		return nil, fmt.Errorf("decode form 4: %w", err)
	}
	f := &Form4{
		IssuerCIK:    strings.TrimSpace(doc.Issuer.CIK),
		IssuerName:   strings.TrimSpace(doc.Issuer.Name),
		OwnerCIK:     strings.TrimSpace(doc.ReportingOwner.ID.CIK),
		OwnerName:    strings.TrimSpace(doc.ReportingOwner.ID.Name),
		IsDirector:   xmlBool(doc.ReportingOwner.Relationship.IsDirector),
		IsOfficer:    xmlBool(doc.ReportingOwner.Relationship.IsOfficer),
		OfficerTitle: strings.TrimSpace(doc.ReportingOwner.Relationship.OfficerTitle),
	}
	if f.IssuerCIK == "" || f.OwnerCIK == "" {
		return nil, fmt.Errorf("form 4 missing issuer or owner")
	}
	return f, nil
}

// xmlBool accepts the 0/1/true/false variants EDGAR emits.
func xmlBool(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true":
		return true
	default:
		return false
	}
}
