package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	c, err := NewCatalog(Defaults()...)
	require.NoError(t, err)

	p, err := c.Lookup("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, p.Duration)
	assert.Equal(t, int64(12000), p.PriceMinor)
	assert.Equal(t, int64(7*86400), p.DurationSeconds())

	_, err = c.Lookup("90d")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	ids := make([]string, 0, 3)
	for _, p := range c.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"7d", "14d", "30d"}, ids)
}

func TestNewCatalogRejectsBadPlans(t *testing.T) {
	_, err := NewCatalog()
	assert.Error(t, err)

	_, err = NewCatalog(Plan{ID: "", Duration: Day, PriceMinor: 1})
	assert.Error(t, err)

	_, err = NewCatalog(Plan{ID: "x", Duration: 0, PriceMinor: 1})
	assert.Error(t, err)

	_, err = NewCatalog(Plan{ID: "x", Duration: Day, PriceMinor: 0})
	assert.Error(t, err)

	_, err = NewCatalog(
		Plan{ID: "x", Duration: Day, PriceMinor: 1},
		Plan{ID: "x", Duration: Day, PriceMinor: 2},
	)
	assert.Error(t, err)
}

func TestWithPrices(t *testing.T) {
	plans, err := WithPrices(Defaults(), map[string]int64{"30d": 30000})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), plans[2].PriceMinor)
	assert.Equal(t, int64(25000), Defaults()[2].PriceMinor, "defaults must not be mutated")

	_, err = WithPrices(Defaults(), map[string]int64{"1y": 1})
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	defaults := Defaults()
	assert.Equal(t, "7 hari — Rp12.000", defaults[0].Label)
	assert.Equal(t, "30 hari — Rp25.000", defaults[2].Label)

	priced, err := WithPrices(defaults, map[string]int64{"30d": 1250000})
	require.NoError(t, err)
	assert.Equal(t, "30 hari — Rp1.250.000", priced[2].Label)
	assert.Equal(t, "7 hari — Rp12.000", defaults[0].Label)
}
