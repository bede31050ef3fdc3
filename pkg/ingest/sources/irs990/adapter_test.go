package irs990

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/blobstore"
	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/ingest"
	"github.com/civiclens/mitds/pkg/model"
	"github.com/civiclens/mitds/pkg/provenance"
	"github.com/civiclens/mitds/pkg/resolve"
)

const namespacedFiling = `<?xml version="1.0" encoding="utf-8"?>
<Return xmlns="http://www.irs.gov/efile" returnVersion="2023v5.0">
  <ReturnHeader>
    <TaxPeriodEndDt>2023-12-31</TaxPeriodEndDt>
    <Filer>
      <EIN>111111111</EIN>
      <BusinessName><BusinessNameLine1Txt>Acme Foundation</BusinessNameLine1Txt></BusinessName>
      <USAddress>
        <AddressLine1Txt>1 Main St</AddressLine1Txt>
        <CityNm>Albany</CityNm>
        <StateAbbreviationCd>NY</StateAbbreviationCd>
        <ZIPCd>12207</ZIPCd>
      </USAddress>
    </Filer>
  </ReturnHeader>
  <ReturnData>
    <IRS990>
      <Form990PartVIISectionAGrp>
        <PersonNm>Jane Roe</PersonNm>
        <TitleTxt>Board Chair</TitleTxt>
        <AverageHoursPerWeekRt>5.00</AverageHoursPerWeekRt>
        <ReportableCompFromOrgAmt>0</ReportableCompFromOrgAmt>
      </Form990PartVIISectionAGrp>
      <Form990PartVIISectionAGrp>
        <PersonNm>John Doe</PersonNm>
        <TitleTxt>CEO</TitleTxt>
        <AverageHoursPerWeekRt>40.00</AverageHoursPerWeekRt>
        <ReportableCompFromOrgAmt>180000</ReportableCompFromOrgAmt>
      </Form990PartVIISectionAGrp>
    </IRS990>
    <IRS990ScheduleI>
      <RecipientTable>
        <RecipientBusinessName><BusinessNameLine1Txt>Northern Media Fund</BusinessNameLine1Txt></RecipientBusinessName>
        <RecipientEIN>222222222</RecipientEIN>
        <CashGrantAmt>50000</CashGrantAmt>
        <PurposeOfGrantTxt>General support</PurposeOfGrantTxt>
        <USAddress><CityNm>Buffalo</CityNm><StateAbbreviationCd>NY</StateAbbreviationCd><ZIPCd>14201</ZIPCd></USAddress>
      </RecipientTable>
      <RecipientTable>
        <RecipientBusinessName><BusinessNameLine1Txt>Maple Journalism Collective</BusinessNameLine1Txt></RecipientBusinessName>
        <CashGrantAmt>25000</CashGrantAmt>
        <ForeignAddress><CityNm>Toronto</CityNm><CountryCd>CA</CountryCd></ForeignAddress>
      </RecipientTable>
    </IRS990ScheduleI>
    <IRS990ScheduleR>
      <IdRelatedTaxExemptOrgGrp>
        <BusinessName><BusinessNameLine1Txt>Acme Action Fund</BusinessNameLine1Txt></BusinessName>
        <EIN>333333333</EIN>
        <PrimaryActivitiesTxt>Advocacy</PrimaryActivitiesTxt>
      </IdRelatedTaxExemptOrgGrp>
    </IRS990ScheduleR>
  </ReturnData>
</Return>`

const plainFiling = `<?xml version="1.0"?>
<Return>
  <ReturnHeader>
    <TaxPeriodEndDate>2015-12-31</TaxPeriodEndDate>
    <Filer>
      <EIN>444444444</EIN>
      <Name><BusinessNameLine1>Old Style Charity</BusinessNameLine1></Name>
    </Filer>
  </ReturnHeader>
  <ReturnData>
    <IRS990>
      <Form990PartVIISectionA>
        <NamePerson>Alice Smith</NamePerson>
        <Title>Trustee</Title>
      </Form990PartVIISectionA>
    </IRS990>
  </ReturnData>
</Return>`

func newTestPipeline(t *testing.T) (*ingest.Pipeline, *graph.MemoryStore) {
	t.Helper()
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	recorder := provenance.NewRecorder(blobstore.NewMemoryStore(), model.Extractor{Name: sourceName, Version: "1.0.0"})
	return ingest.NewPipeline(g, writer, resolve.NewResolver(g, nil), recorder, nil), g
}

func TestParseFilingNamespaced(t *testing.T) {
	f, err := ParseFiling([]byte(namespacedFiling))
	require.NoError(t, err)
	assert.Equal(t, "111111111", f.FilerEIN)
	assert.Equal(t, "Acme Foundation", f.FilerName)
	assert.Equal(t, 2023, f.FiscalYear())
	require.NotNil(t, f.Address)
	assert.Equal(t, "Albany", f.Address.City)

	require.Len(t, f.Officers, 2)
	assert.True(t, f.Officers[0].IsDirector())
	assert.False(t, f.Officers[1].IsDirector())
	assert.Equal(t, 5.0, f.Officers[0].HoursPerWeek)
	assert.Equal(t, 40.0, f.Officers[1].HoursPerWeek)

	require.Len(t, f.Grants, 2)
	assert.Equal(t, "222222222", f.Grants[0].RecipientEIN)
	assert.Equal(t, 50000.0, f.Grants[0].Amount)
	assert.Equal(t, "CA", f.Grants[1].ForeignCountry)

	require.Len(t, f.RelatedOrgs, 1)
	assert.Equal(t, "Acme Action Fund", f.RelatedOrgs[0].Name)
}

func TestParseFilingWithoutNamespace(t *testing.T) {
	f, err := ParseFiling([]byte(plainFiling))
	require.NoError(t, err)
	assert.Equal(t, "444444444", f.FilerEIN)
	assert.Equal(t, "Old Style Charity", f.FilerName)
	assert.Equal(t, 2015, f.FiscalYear())
	require.Len(t, f.Officers, 1)
	assert.Equal(t, "Alice Smith", f.Officers[0].Name)
	assert.True(t, f.Officers[0].IsDirector())
}

func TestProcessFilingWritesGraph(t *testing.T) {
	pipe, g := newTestPipeline(t)
	a := New(pipe)

	filing, err := ParseFiling([]byte(namespacedFiling))
	require.NoError(t, err)
	filing.ObjectID = "202312319349300000"
	filing.Raw = []byte(namespacedFiling)

	res, err := a.Process(context.Background(), filing)
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionCreated, res.Action)
	assert.Equal(t, "11-1111111", res.RecordID)

	ctx := context.Background()
	people, err := g.NodesByType(ctx, model.EntityPerson)
	require.NoError(t, err)
	require.Len(t, people, 2)

	orgs, err := g.NodesByType(ctx, model.EntityOrganization)
	require.NoError(t, err)
	// Filer, two grant recipients, one related org.
	require.Len(t, orgs, 4)

	var jane *model.Entity
	for _, p := range people {
		if p.Name == "Jane Roe" {
			jane = p
		}
	}
	require.NotNil(t, jane)
	edges, err := g.EdgesFrom(ctx, jane.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeDirectorOf, edges[0].Type)
	assert.Equal(t, "Board Chair", edges[0].Properties["title"])
	assert.Equal(t, 5.0, edges[0].Properties["hours_per_week"])
	require.NotNil(t, edges[0].ValidTo)

	var maple *model.Entity
	for _, o := range orgs {
		if o.Name == "Maple Journalism Collective" {
			maple = o
		}
	}
	require.NotNil(t, maple)
	assert.Equal(t, "CA", maple.Properties["jurisdiction"])
	fundEdges, err := g.EdgesFrom(ctx, maple.ID)
	require.NoError(t, err)
	require.Len(t, fundEdges, 1)
	assert.Equal(t, model.EdgeFundedBy, fundEdges[0].Type)
	assert.Equal(t, "USD", fundEdges[0].Properties["currency"])
	assert.Equal(t, 2023, fundEdges[0].Properties["fiscal_year"])
	require.Len(t, fundEdges[0].EvidenceIDs, 1)

	var northern *model.Entity
	for _, o := range orgs {
		if o.Name == "Northern Media Fund" {
			northern = o
		}
	}
	require.NotNil(t, northern)
	grantEdges, err := g.EdgesFrom(ctx, northern.ID)
	require.NoError(t, err)
	require.Len(t, grantEdges, 1)
	assert.Equal(t, "General support", grantEdges[0].Properties["grant_purpose"])
}

func TestProcessFilingIdempotent(t *testing.T) {
	pipe, g := newTestPipeline(t)
	a := New(pipe)

	filing, err := ParseFiling([]byte(namespacedFiling))
	require.NoError(t, err)
	filing.ObjectID = "202312319349300000"
	filing.Raw = []byte(namespacedFiling)

	_, err = a.Process(context.Background(), filing)
	require.NoError(t, err)
	res, err := a.Process(context.Background(), filing)
	require.NoError(t, err)
	assert.Equal(t, ingest.ActionUpdated, res.Action)

	orgs, err := g.NodesByType(context.Background(), model.EntityOrganization)
	require.NoError(t, err)
	assert.Len(t, orgs, 4)
}

func TestParseIndex(t *testing.T) {
	csv := "RETURN_ID,EIN,TAXPAYER_NAME,OBJECT_ID,DATE_SUBMITTED\n" +
		"1,111111111,Acme Foundation,202312319349300000,2023-06-15\n" +
		"2,222222222,Other Org,202312319349300001,6/20/2023\n"
	index, err := parseIndex([]byte(csv))
	require.NoError(t, err)
	require.Len(t, index, 2)
	assert.Equal(t, 6, index["202312319349300000"].Month)
	assert.Equal(t, "Acme Foundation", index["202312319349300000"].Name)
	assert.Equal(t, 6, index["202312319349300001"].Month)
}
