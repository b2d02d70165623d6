package stripesync

import (
	"encoding/json"
	"time"
)

type product struct {
	Active              bool            `json:"active"`
	Created             int64           `json:"created"`
	DefaultPrice        expandable      `json:"default_price"`
	Description         string          `json:"description"`
	Images              json.RawMessage `json:"images"`
	Livemode            bool            `json:"livemode"`
	MarketingFeatures   json.RawMessage `json:"marketing_features"`
	Metadata            json.RawMessage `json:"metadata"`
	Name                string          `json:"name"`
	PackageDimensions   json.RawMessage `json:"package_dimensions"`
	Shippable           *bool           `json:"shippable"`
	StatementDescriptor string          `json:"statement_descriptor"`
	TaxCode             expandable      `json:"tax_code"`
	UnitLabel           string          `json:"unit_label"`
	Updated             int64           `json:"updated"`
	URL                 string          `json:"url"`
}

var (
	productEndpoint = "/v1/products"
	productTable    = "stripe_products"

	// productDefaultPrice links a product to the local row of its default
	// price.
	productDefaultPrice = Ref{
		Table:    productTable,
		Column:   "default_price",
		IDColumn: "default_price_id",
		Target:   priceTable,
	}
)

func projectProduct(raw json.RawMessage, observed time.Time) (Record, error) {
	var p product

	id, err := decode(raw, &p)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"active":               p.Active,
			"created":              epoch(p.Created),
			"default_price":        nullString(string(p.DefaultPrice)),
			"description":          nullString(p.Description),
			"images":               blob(p.Images),
			"livemode":             p.Livemode,
			"marketing_features":   blob(p.MarketingFeatures),
			"metadata":             blob(p.Metadata),
			"name":                 p.Name,
			"package_dimensions":   blob(p.PackageDimensions),
			"shippable":            nullBool(p.Shippable),
			"statement_descriptor": nullString(p.StatementDescriptor),
			"tax_code":             nullString(string(p.TaxCode)),
			"unit_label":           nullString(p.UnitLabel),
			"updated":              epoch(p.Updated),
			"url":                  nullString(p.URL),
		},
	}, nil
}

func productParams(o Options) Params {
	params := Params{}

	if !o.IncludeInactive {
		params["active"] = true
	}
	return params
}
