package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan maps a plan type to the payment processor's price identifier and the
// advertised price. PriceID must match the processor's catalog so checkout
// sessions and webhook price lookups resolve directly.
type Plan struct {
	Type     PlanType `yaml:"type"`
	Name     string   `yaml:"name"`
	PriceID  string   `yaml:"price_id"`
	Amount   int64    `yaml:"amount"` // smallest currency unit
	Currency string   `yaml:"currency"`
}

// Catalog is the set of purchasable plans, keyed both ways: by plan type for
// checkout and by price id for webhook-driven plan re-derivation.
type Catalog struct {
	byType  map[PlanType]Plan
	byPrice map[string]Plan
}

var (
	ErrPlanNotInCatalog  = errors.New("plan type not present in catalog")
	ErrPriceNotInCatalog = errors.New("price id not present in catalog")
	ErrInvalidCatalog    = errors.New("invalid plan catalog")
)

// NewCatalog builds a catalog from the given plans. Every plan must carry a
// valid type and a non-empty price id, and neither may repeat.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: at least one plan is required", ErrInvalidCatalog)
	}

	c := &Catalog{
		byType:  make(map[PlanType]Plan, len(plans)),
		byPrice: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown plan type %q", ErrInvalidCatalog, p.Type)
		}
		if p.PriceID == "" {
			return nil, fmt.Errorf("%w: plan %q has no price id", ErrInvalidCatalog, p.Type)
		}
		if _, dup := c.byType[p.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate plan type %q", ErrInvalidCatalog, p.Type)
		}
		if _, dup := c.byPrice[p.PriceID]; dup {
			return nil, fmt.Errorf("%w: duplicate price id %q", ErrInvalidCatalog, p.PriceID)
		}
		c.byType[p.Type] = p
		c.byPrice[p.PriceID] = p
	}
	return c, nil
}

// ByType returns the plan for a plan type.
func (c *Catalog) ByType(t PlanType) (Plan, error) {
	p, ok := c.byType[t]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotInCatalog, t)
	}
	return p, nil
}

// ByPriceID returns the plan for a processor price identifier.
func (c *Catalog) ByPriceID(priceID string) (Plan, error) {
	p, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPriceNotInCatalog, priceID)
	}
	return p, nil
}

// CatalogSource loads the plan catalog at startup.
type CatalogSource interface {
	Load(ctx context.Context) (*Catalog, error)
}

type yamlCatalogSource struct {
	path string
}

// NewYAMLCatalogSource reads plans from a YAML file of the form:
//
//	plans:
//	  - type: monthly
//	    name: Monthly
//	    price_id: price_monthly_basic
//	    amount: 999
//	    currency: usd
func NewYAMLCatalogSource(path string) CatalogSource {
	return &yamlCatalogSource{path: path}
}

func (s *yamlCatalogSource) Load(_ context.Context) (*Catalog, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", s.path, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Plans...)
}

type staticCatalogSource struct {
	plans []Plan
}

// NewStaticCatalogSource returns a source backed by in-process plan values,
// useful for tests and single-binary deployments.
func NewStaticCatalogSource(plans ...Plan) CatalogSource {
	return &staticCatalogSource{plans: plans}
}

func (s *staticCatalogSource) Load(_ context.Context) (*Catalog, error) {
	return NewCatalog(s.plans...)
}
