package stripesync

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v72"
)

type coupon struct {
	AmountOff        *int64                `json:"amount_off"`
	Created          int64                 `json:"created"`
	Currency         string                `json:"currency"`
	Duration         stripe.CouponDuration `json:"duration"`
	DurationInMonths *int64                `json:"duration_in_months"`
	Livemode         bool                  `json:"livemode"`
	MaxRedemptions   *int64                `json:"max_redemptions"`
	Metadata         json.RawMessage       `json:"metadata"`
	Name             string                `json:"name"`
	PercentOff       *float64              `json:"percent_off"`
	RedeemBy         *int64                `json:"redeem_by"`
	TimesRedeemed    int64                 `json:"times_redeemed"`
	Valid            bool                  `json:"valid"`
}

type promotionCode struct {
	Active         bool            `json:"active"`
	Code           string          `json:"code"`
	Coupon         expandable      `json:"coupon"`
	Created        int64           `json:"created"`
	Customer       expandable      `json:"customer"`
	ExpiresAt      *int64          `json:"expires_at"`
	Livemode       bool            `json:"livemode"`
	MaxRedemptions *int64          `json:"max_redemptions"`
	Metadata       json.RawMessage `json:"metadata"`
	Restrictions   json.RawMessage `json:"restrictions"`
	TimesRedeemed  int64           `json:"times_redeemed"`
}

var (
	couponEndpoint        = "/v1/coupons"
	couponTable           = "stripe_coupons"
	promotionCodeEndpoint = "/v1/promotion_codes"
	promotionCodeTable    = "stripe_promotion_codes"
)

func projectCoupon(raw json.RawMessage, observed time.Time) (Record, error) {
	var c coupon

	id, err := decode(raw, &c)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"amount_off":         nullInt(c.AmountOff),
			"created":            epoch(c.Created),
			"currency":           nullString(c.Currency),
			"duration":           string(c.Duration),
			"duration_in_months": nullInt(c.DurationInMonths),
			"livemode":           c.Livemode,
			"max_redemptions":    nullInt(c.MaxRedemptions),
			"metadata":           blob(c.Metadata),
			"name":               nullString(c.Name),
			"percent_off":        nullFloat(c.PercentOff),
			"redeem_by":          epochPtr(c.RedeemBy),
			"times_redeemed":     c.TimesRedeemed,
			"valid":              c.Valid,
		},
	}, nil
}

func projectPromotionCode(raw json.RawMessage, observed time.Time) (Record, error) {
	var pc promotionCode

	id, err := decode(raw, &pc)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"active":          pc.Active,
			"code":            pc.Code,
			"coupon":          nullString(string(pc.Coupon)),
			"created":         epoch(pc.Created),
			"customer":        nullString(string(pc.Customer)),
			"expires_at":      epochPtr(pc.ExpiresAt),
			"livemode":        pc.Livemode,
			"max_redemptions": nullInt(pc.MaxRedemptions),
			"metadata":        blob(pc.Metadata),
			"restrictions":    blob(pc.Restrictions),
			"times_redeemed":  pc.TimesRedeemed,
		},
	}, nil
}

// activeParams filters the list to active records unless inactive records are
// wanted.
func activeParams(o Options) Params {
	params := Params{}

	if !o.IncludeInactive {
		params["active"] = true
	}
	return params
}
