package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := Default()

	buyer, ok := catalog.Brief(Buyer)
	require.True(t, ok)
	assert.NotEmpty(t, buyer.Scenario)
	assert.NotEmpty(t, buyer.Priorities)

	seller, ok := catalog.Brief(Seller)
	require.True(t, ok)
	assert.NotEqual(t, buyer.Scenario, seller.Scenario)
}

func TestRoleCounterpart(t *testing.T) {
	assert.Equal(t, Seller, Buyer.Counterpart())
	assert.Equal(t, Buyer, Seller.Counterpart())
	assert.True(t, Buyer.Valid())
	assert.False(t, Role("broker").Valid())
}

func TestParseRejectsMissingRole(t *testing.T) {
	_, err := Parse([]byte(`
name: x
roles:
  buyer:
    scenario: s
    priorities:
      - item: refund
        points: 10
`))
	require.Error(t, err)
}

func TestFormatPriorities(t *testing.T) {
	out := FormatPriorities([]Priority{{Item: "Refund", Points: 40}, {Item: "Apology", Points: 20}})
	assert.Equal(t, "- Refund (40 points)\n- Apology (20 points)", out)
}
