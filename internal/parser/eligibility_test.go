package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEligibilityText_PlanMaximumScenario(t *testing.T) {
	markup := `<html><body>
<h1>SOPHIE ROBINSON</h1>
<div class="benefits">
  <div>Subscriber ID: 825978894</div>
  <div>Plan Maximum: $1,500</div>
  <div>Maximum Used to Date: $300</div>
</div>
</body></html>`

	text, err := HTMLText(markup)
	require.NoError(t, err)

	snap := ParseEligibilityText(text, DefaultEligibilityLabels)
	require.NotNil(t, snap.AnnualMaximum)
	require.NotNil(t, snap.AnnualMaximumUsed)
	assert.Equal(t, 1500.0, *snap.AnnualMaximum)
	assert.Equal(t, 300.0, *snap.AnnualMaximumUsed)

	remaining := snap.AnnualMaximumRemaining()
	require.NotNil(t, remaining)
	assert.Equal(t, 1200.0, *remaining)

	assert.Nil(t, snap.Deductible, "absent eligibility amounts stay unknown")
	assert.Nil(t, snap.DeductibleMet)
}

func TestParseEligibilityText_FullBlock(t *testing.T) {
	text := `Plan Name: Acme Corp Dental PPO
Network: Delta Dental PPO
Annual Maximum: $2,000.00
Benefits Used: $2,250.00
Individual Deductible: $50.00
Deductible Met: $50.00
Preventive 100%
Basic Services 80%
Major Services (50%)
Orthodontics: 50 %`

	snap := ParseEligibilityText(text, DefaultEligibilityLabels)

	assert.Equal(t, "Acme Corp Dental PPO", snap.PlanName)
	assert.Equal(t, "Delta Dental PPO", snap.Network)
	assert.Equal(t, 2000.0, *snap.AnnualMaximum)
	assert.Equal(t, 2250.0, *snap.AnnualMaximumUsed)
	assert.Equal(t, 50.0, *snap.Deductible)
	assert.Equal(t, 50.0, *snap.DeductibleMet)
	assert.Equal(t, 0.0, *snap.AnnualMaximumRemaining(), "used above maximum clamps to zero")

	assert.Equal(t, map[string]float64{
		"preventive":  100,
		"basic":       80,
		"major":       50,
		"orthodontic": 50,
	}, snap.CoinsuranceByCategory)
}

func TestParseEligibilityText_NothingFound(t *testing.T) {
	snap := ParseEligibilityText("Welcome back!\nSearch for a patient", DefaultEligibilityLabels)
	assert.True(t, snap.IsEmpty())
	assert.Nil(t, snap.AnnualMaximumRemaining())
}

func TestHTMLText_LinePerBlock(t *testing.T) {
	text, err := HTMLText(`<div><p>Claim #: A1</p><script>var x = 1;</script><table><tr><td>Billed:</td><td>$5</td></tr></table></div>`)
	require.NoError(t, err)
	assert.Equal(t, "Claim #: A1\nBilled: $5", text)
}
