/*
Package rewards provides preset incentive definitions.

These functions create JSON incentive definitions for the common reward kinds
(cash bonus, extra days off, training budget, recognition). They construct
JSON strings directly so admin tooling and scenario files share one shape.

USAGE:
  import "github.com/warp/incentive-engine/rewards"

  jsonStr := rewards.MonetaryBonusJSON("q1-bonus", "Q1 bonus", "1000", rewards.Proportional)
  inc, err := factory.NewIncentiveFactory().ParseIncentive(jsonStr)
*/
package rewards

import (
	"encoding/json"
	"strconv"
)

// Modalities as they appear in JSON.
const (
	Proportional = "proportional"
	AllOrNothing = "all-or-nothing"
)

func incentiveJSON(id, name, kind, value, modality string) string {
	ij := map[string]interface{}{
		"id":    id,
		"name":  name,
		"type":  kind,
		"value": value,
	}
	if modality != "" {
		ij["conditionExpression"] = map[string]interface{}{
			"modality": modality,
		}
	}
	b, _ := json.MarshalIndent(ij, "", "  ")
	return string(b)
}

// MonetaryBonusJSON returns JSON for a cash bonus. Only monetary incentives
// can pay out proportionally.
func MonetaryBonusJSON(id, name, amount, modality string) string {
	return incentiveJSON(id, name, "monetary", amount, modality)
}

// DaysOffJSON returns JSON for extra paid days off, granted all at once.
func DaysOffJSON(id, name string, days int) string {
	return incentiveJSON(id, name, "days-off", strconv.Itoa(days), AllOrNothing)
}

// TrainingJSON returns JSON for a training or conference voucher.
func TrainingJSON(id, name, voucher string) string {
	return incentiveJSON(id, name, "training", voucher, AllOrNothing)
}

// RecognitionJSON returns JSON for a non-cash recognition award. The modality
// is left unset so the default applies.
func RecognitionJSON(id, name, award string) string {
	return incentiveJSON(id, name, "other", award, "")
}
