package stripesync

import (
	"encoding/json"
	"time"
)

type taxCode struct {
	Description string `json:"description"`
	Name        string `json:"name"`
}

type taxRate struct {
	Active       bool            `json:"active"`
	Country      string          `json:"country"`
	Created      int64           `json:"created"`
	Description  string          `json:"description"`
	DisplayName  string          `json:"display_name"`
	Inclusive    bool            `json:"inclusive"`
	Jurisdiction string          `json:"jurisdiction"`
	Livemode     bool            `json:"livemode"`
	Metadata     json.RawMessage `json:"metadata"`
	Percentage   float64         `json:"percentage"`
	State        string          `json:"state"`
	TaxType      string          `json:"tax_type"`
}

var (
	taxCodeEndpoint = "/v1/tax_codes"
	taxCodeTable    = "stripe_tax_codes"
	taxRateEndpoint = "/v1/tax_rates"
	taxRateTable    = "stripe_tax_rates"
)

func projectTaxCode(raw json.RawMessage, observed time.Time) (Record, error) {
	var tc taxCode

	id, err := decode(raw, &tc)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"description": nullString(tc.Description),
			"name":        tc.Name,
		},
	}, nil
}

func projectTaxRate(raw json.RawMessage, observed time.Time) (Record, error) {
	var tr taxRate

	id, err := decode(raw, &tr)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"active":       tr.Active,
			"country":      nullString(tr.Country),
			"created":      epoch(tr.Created),
			"description":  nullString(tr.Description),
			"display_name": tr.DisplayName,
			"inclusive":    tr.Inclusive,
			"jurisdiction": nullString(tr.Jurisdiction),
			"livemode":     tr.Livemode,
			"metadata":     blob(tr.Metadata),
			"percentage":   tr.Percentage,
			"state":        nullString(tr.State),
			"tax_type":     nullString(tr.TaxType),
		},
	}, nil
}
