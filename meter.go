package stripesync

import (
	"encoding/json"
	"time"
)

type meter struct {
	Created            int64           `json:"created"`
	CustomerMapping    json.RawMessage `json:"customer_mapping"`
	DefaultAggregation json.RawMessage `json:"default_aggregation"`
	DisplayName        string          `json:"display_name"`
	EventName          string          `json:"event_name"`
	EventTimeWindow    string          `json:"event_time_window"`
	Livemode           bool            `json:"livemode"`
	Status             string          `json:"status"`
	StatusTransitions  json.RawMessage `json:"status_transitions"`
	Updated            int64           `json:"updated"`
	ValueSettings      json.RawMessage `json:"value_settings"`
}

var (
	meterEndpoint = "/v1/billing/meters"
	meterTable    = "stripe_meters"
)

func projectMeter(raw json.RawMessage, observed time.Time) (Record, error) {
	var m meter

	id, err := decode(raw, &m)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"created":             epoch(m.Created),
			"customer_mapping":    blob(m.CustomerMapping),
			"default_aggregation": blob(m.DefaultAggregation),
			"display_name":        m.DisplayName,
			"event_name":          m.EventName,
			"event_time_window":   nullString(m.EventTimeWindow),
			"livemode":            m.Livemode,
			"status":              m.Status,
			"status_transitions":  blob(m.StatusTransitions),
			"updated":             epoch(m.Updated),
			"value_settings":      blob(m.ValueSettings),
		},
	}, nil
}

// meterParams lists the active meters unless a status is given, or inactive
// meters are wanted.
func meterParams(o Options) Params {
	params := Params{}

	switch {
	case o.Status != "":
		params["status"] = o.Status
	case !o.IncludeInactive:
		params["status"] = "active"
	}
	return params
}
