package jurisdiction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCanadian(t *testing.T) {
	assert.True(t, IsCanadian("CA"))
	assert.True(t, IsCanadian("ca-on"))
	assert.True(t, IsCanadian(" CA-QC "))
	assert.False(t, IsCanadian("US"))
	assert.False(t, IsCanadian("US-CA"))
	assert.False(t, IsCanadian(""))
}

func TestFromSECState(t *testing.T) {
	j, canadian := FromSECState("A6")
	assert.Equal(t, "CA", j)
	assert.True(t, canadian)

	j, canadian = FromSECState("CANADA")
	assert.Equal(t, "CA", j)
	assert.True(t, canadian)

	// Two-letter CA is California, never Canada.
	j, canadian = FromSECState("CA")
	assert.Equal(t, "CA", j)
	assert.False(t, canadian)

	j, canadian = FromSECState("DE")
	assert.Equal(t, "DE", j)
	assert.False(t, canadian)
}

func TestSECProvince(t *testing.T) {
	assert.Equal(t, "CA-ON", SECProvince("A6"))
	assert.Equal(t, "CA-NU", SECProvince("b2"))
	assert.Empty(t, SECProvince("CANADA"))
	assert.Empty(t, SECProvince("NY"))
}

func TestRegionName(t *testing.T) {
	assert.Equal(t, "Ontario", RegionName("CA-ON"))
	assert.Equal(t, "Quebec", RegionName("ca-qc"))
	assert.Empty(t, RegionName("ON"))
	assert.Empty(t, RegionName("CA-ZZ"))
}

func TestCountry(t *testing.T) {
	assert.Equal(t, "CA", Country("CA-ON"))
	assert.Equal(t, "US", Country("us"))
	assert.Equal(t, "", Country("  "))
}
