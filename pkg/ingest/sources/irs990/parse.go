package irs990

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/civiclens/mitds/pkg/model"
)

// Filing is one parsed 990 return. ParseErr carries the XML failure so
// the runner can book it as a record error without losing the object id.
type Filing struct {
	ObjectID string
	Raw      []byte
	ParseErr error

	FilerEIN     string
	FilerName    string
	TaxPeriodEnd time.Time
	Address      *model.Address

	Officers    []Officer
	Grants      []Grant
	RelatedOrgs []RelatedOrg
}

// RecordID returns the best identifier for logging.
func (f *Filing) RecordID() string {
	if f.FilerEIN != "" {
		return f.FilerEIN
	}
	return f.ObjectID
}

// FiscalYear is the tax period end year.
func (f *Filing) FiscalYear() int { return f.TaxPeriodEnd.Year() }

// Officer is one Part VII Section A row.
type Officer struct {
	Name         string
	Title        string
	Compensation float64
	HoursPerWeek float64
}

// IsDirector reports whether the title makes this a board relationship
// rather than employment.
func (o Officer) IsDirector() bool {
	t := strings.ToLower(o.Title)
	for _, marker := range []string{"director", "trustee", "board", "chair"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// Grant is one Schedule I recipient row.
type Grant struct {
	RecipientName  string
	RecipientEIN   string
	Amount         float64
	Purpose        string
	Address        *model.Address
	ForeignCountry string // ISO country code from a ForeignAddress
}

// RelatedOrg is one Schedule R related-organization row.
type RelatedOrg struct {
	Name         string
	EIN          string
	Relationship string
}

// The IRS rotated element names across schema years and some older
// filings carry no namespace at all. encoding/xml matches local names
// regardless of namespace, and each struct keeps the alternates side
// by side; first() picks whichever variant the filing used.
type returnDoc struct {
	XMLName      xml.Name `xml:"Return"`
	ReturnHeader struct {
		TaxPeriodEndDt  string `xml:"TaxPeriodEndDt"`
		TaxPeriodEndAlt string `xml:"TaxPeriodEndDate"`
		Filer           struct {
			EIN          string       `xml:"EIN"`
			BusinessName businessName `xml:"BusinessName"`
			NameAlt      businessName `xml:"Name"`
			USAddress    usAddress    `xml:"USAddress"`
		} `xml:"Filer"`
	} `xml:"ReturnHeader"`
	ReturnData struct {
		IRS990 struct {
			PartVII []partVIIRow `xml:"Form990PartVIISectionAGrp"`
			OldVII  []partVIIRow `xml:"Form990PartVIISectionA"`
		} `xml:"IRS990"`
		ScheduleI struct {
			Recipients []recipientRow `xml:"RecipientTable"`
		} `xml:"IRS990ScheduleI"`
		ScheduleR struct {
			TaxExempt []relatedRow `xml:"IdRelatedTaxExemptOrgGrp"`
			TaxableCo []relatedRow `xml:"IdRelatedOrgTxblCorpGrp"`
			TaxablePS []relatedRow `xml:"IdRelatedOrgTxblPartnrGrp"`
		} `xml:"IRS990ScheduleR"`
	} `xml:"ReturnData"`
}

type businessName struct {
	Line1    string `xml:"BusinessNameLine1Txt"`
	Line1Alt string `xml:"BusinessNameLine1"`
}

func (b businessName) value() string { return first(b.Line1, b.Line1Alt) }

type usAddress struct {
	Line1    string `xml:"AddressLine1Txt"`
	Line1Alt string `xml:"AddressLine1"`
	City     string `xml:"CityNm"`
	CityAlt  string `xml:"City"`
	State    string `xml:"StateAbbreviationCd"`
	StateAlt string `xml:"State"`
	ZIP      string `xml:"ZIPCd"`
	ZIPAlt   string `xml:"ZIPCode"`
}

func (a usAddress) toModel() *model.Address {
	addr := &model.Address{
		Street:  first(a.Line1, a.Line1Alt),
		City:    first(a.City, a.CityAlt),
		Region:  first(a.State, a.StateAlt),
		Postal:  first(a.ZIP, a.ZIPAlt),
		Country: "US",
	}
	if addr.Street == "" && addr.City == "" && addr.Postal == "" {
		return nil
	}
	return addr
}

type partVIIRow struct {
	PersonNm     string  `xml:"PersonNm"`
	PersonAlt    string  `xml:"NamePerson"`
	TitleTxt     string  `xml:"TitleTxt"`
	TitleAlt     string  `xml:"Title"`
	Compensation float64 `xml:"ReportableCompFromOrgAmt"`
	CompAlt      float64 `xml:"ReportableCompFromOrganization"`
	AvgHours     float64 `xml:"AverageHoursPerWeekRt"`
	AvgHoursAlt  float64 `xml:"AverageHoursPerWeek"`
}

type recipientRow struct {
	BusinessName   businessName `xml:"RecipientBusinessName"`
	EIN            string       `xml:"RecipientEIN"`
	EINAlt         string       `xml:"EINOfRecipient"`
	CashGrantAmt   float64      `xml:"CashGrantAmt"`
	CashGrantAlt   float64      `xml:"AmountOfCashGrant"`
	Purpose        string       `xml:"PurposeOfGrantTxt"`
	PurposeAlt     string       `xml:"PurposeOfGrant"`
	USAddress      usAddress    `xml:"USAddress"`
	ForeignAddress struct {
		Country    string `xml:"CountryCd"`
		CountryAlt string `xml:"Country"`
		City       string `xml:"CityNm"`
	} `xml:"ForeignAddress"`
}

type relatedRow struct {
	BusinessName businessName `xml:"BusinessName"`
	NameAlt      businessName `xml:"Name"`
	EIN          string       `xml:"EIN"`
	Relationship string       `xml:"PrimaryActivitiesTxt"`
}

// ParseFiling decodes one 990 XML document, namespaced or not.
func ParseFiling(raw []byte) (*Filing, error) {
	var doc returnDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode return: %w", err)
	}

	f := &Filing{
		FilerEIN:  strings.TrimSpace(doc.ReturnHeader.Filer.EIN),
		FilerName: first(doc.ReturnHeader.Filer.BusinessName.value(), doc.ReturnHeader.Filer.NameAlt.value()),
		Address:   doc.ReturnHeader.Filer.USAddress.toModel(),
	}
	if f.FilerEIN == "" {
		return nil, fmt.Errorf("filing has no filer EIN")
	}
	if end := first(doc.ReturnHeader.TaxPeriodEndDt, doc.ReturnHeader.TaxPeriodEndAlt); end != "" {
		if t, err := time.Parse("2006-01-02", end); err == nil {
			f.TaxPeriodEnd = t
		}
	}

	rows := doc.ReturnData.IRS990.PartVII
	rows = append(rows, doc.ReturnData.IRS990.OldVII...)
	for _, row := range rows {
		name := strings.TrimSpace(first(row.PersonNm, row.PersonAlt))
		if name == "" {
			continue
		}
		f.Officers = append(f.Officers, Officer{
			Name:         name,
			Title:        strings.TrimSpace(first(row.TitleTxt, row.TitleAlt)),
			Compensation: firstFloat(row.Compensation, row.CompAlt),
			HoursPerWeek: firstFloat(row.AvgHours, row.AvgHoursAlt),
		})
	}

	for _, row := range doc.ReturnData.ScheduleI.Recipients {
		g := Grant{
			RecipientName:  row.BusinessName.value(),
			RecipientEIN:   strings.TrimSpace(first(row.EIN, row.EINAlt)),
			Amount:         firstFloat(row.CashGrantAmt, row.CashGrantAlt),
			Purpose:        first(row.Purpose, row.PurposeAlt),
			Address:        row.USAddress.toModel(),
			ForeignCountry: strings.TrimSpace(first(row.ForeignAddress.Country, row.ForeignAddress.CountryAlt)),
		}
		if g.RecipientName == "" && g.RecipientEIN == "" {
			continue
		}
		f.Grants = append(f.Grants, g)
	}

	related := doc.ReturnData.ScheduleR.TaxExempt
	related = append(related, doc.ReturnData.ScheduleR.TaxableCo...)
	related = append(related, doc.ReturnData.ScheduleR.TaxablePS...)
	for _, row := range related {
		name := first(row.BusinessName.value(), row.NameAlt.value())
		if name == "" {
			continue
		}
		f.RelatedOrgs = append(f.RelatedOrgs, RelatedOrg{
			Name:         name,
			EIN:          strings.TrimSpace(row.EIN),
			Relationship: strings.TrimSpace(row.Relationship),
		})
	}
	return f, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
