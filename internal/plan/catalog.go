package plan

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPlanNotFound = errors.New("plan not found")

// Catalog is a read-only lookup table of plans. It is safe for concurrent use
// without synchronisation because nothing mutates it after NewCatalog returns.
type Catalog struct {
	order []string
	plans map[string]Plan
}

// NewCatalog validates plans and builds a catalog that preserves their order.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.New("catalog needs at least one plan")
	}

	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, errors.New("plan id is empty")
		}
		if p.Duration <= 0 {
			return nil, fmt.Errorf("plan %s: duration must be positive", id)
		}
		if p.PriceMinor <= 0 {
			return nil, fmt.Errorf("plan %s: price must be positive", id)
		}
		if _, dup := c.plans[id]; dup {
			return nil, fmt.Errorf("plan %s defined twice", id)
		}
		p.ID = id
		c.plans[id] = p
		c.order = append(c.order, id)
	}
	return c, nil
}

// WithPrices returns a copy of plans with prices replaced from the given table.
// Prices for ids that are not in plans are rejected.
func WithPrices(plans []Plan, prices map[string]int64) ([]Plan, error) {
	out := make([]Plan, len(plans))
	copy(out, plans)

	known := make(map[string]int, len(out))
	for i, p := range out {
		known[p.ID] = i
	}
	for id, price := range prices {
		i, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("price set for unknown plan %q", id)
		}
		out[i].PriceMinor = price
		out[i].Label = FormatLabel(out[i])
	}
	return out, nil
}

// Lookup returns the plan with the given id.
func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.plans[strings.TrimSpace(id)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// List returns all plans in display order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
