package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLead_Complete(t *testing.T) {
	lead := Lead{FirstName: "Ada", LastName: "Lovelace", Company: "Analytical Engines"}
	assert.True(t, lead.Complete())

	assert.False(t, Lead{LastName: "Lovelace", Company: "AE"}.Complete())
	assert.False(t, Lead{FirstName: " ", LastName: "Lovelace", Company: "AE"}.Complete())
}

func TestLead_Domain(t *testing.T) {
	lead := Lead{Company: "Analytical Engines"}
	assert.Equal(t, "analyticalengines.com", lead.Domain())

	assert.Equal(t, "", Lead{}.Domain())
}

func TestLead_DedupeKey_CaseInsensitive(t *testing.T) {
	a := Lead{FirstName: "Ada", LastName: "Lovelace", Company: "AE"}
	b := Lead{FirstName: "ADA", LastName: "lovelace", Company: "ae"}
	assert.Equal(t, a.DedupeKey(), b.DedupeKey())

	c := Lead{FirstName: "Ada", LastName: "Byron", Company: "AE"}
	assert.NotEqual(t, a.DedupeKey(), c.DedupeKey())
}
