package domain

import "strings"

// Typology is a classified suspicious-activity pattern code
type Typology string

const (
	TypologyRapidMovement      Typology = "RAPID_MOVEMENT"
	TypologyStructuring        Typology = "STRUCTURING"
	TypologyNetworkLink        Typology = "NETWORK_LINK"
	TypologyVelocitySpike      Typology = "VELOCITY_SPIKE"
	TypologyMicroFragmentation Typology = "MICRO_FRAGMENTATION"
	TypologyLayering           Typology = "LAYERING"
	TypologyUnknownPattern     Typology = "UNKNOWN_PATTERN"
)

// Typologies maps every known typology to the human-readable description
// accepted as a narrative reference by the governance gate.
var Typologies = map[Typology]string{
	TypologyRapidMovement:      "Rapid deposit-trade-withdrawal sequence",
	TypologyStructuring:        "Transaction structuring to evade reporting",
	TypologyNetworkLink:        "Network-based coordination",
	TypologyVelocitySpike:      "Unusual transaction velocity",
	TypologyMicroFragmentation: "Micro-transaction fragmentation (NEW)",
	TypologyLayering:           "Minimal profit on high volume (layering)",
	TypologyUnknownPattern:     "Unusual transaction pattern",
}

// IsKnown reports whether t is part of the typology enumeration
func (t Typology) IsKnown() bool {
	_, ok := Typologies[t]
	return ok
}

// Description returns the human-readable description, or "" for free-form codes
func (t Typology) Description() string {
	return Typologies[t]
}

// TypologyFromAlertType normalizes an alert type label ("Rapid Movement") into
// a typology code. Labels that do not name a known typology map to UNKNOWN_PATTERN.
func TypologyFromAlertType(alertType string) Typology {
	if strings.EqualFold(strings.TrimSpace(alertType), "NEW TYPOLOGY") {
		return TypologyMicroFragmentation
	}
	code := Typology(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(alertType), " ", "_")))
	if code.IsKnown() {
		return code
	}
	return TypologyUnknownPattern
}
