package core

import (
	"strings"

	"github.com/example/subscription-sync/internal/models"
)

// LifetimeThresholdMinorUnits is the smallest checkout total, in the currency's minor
// unit, that buys the lifetime plan. Anything below it is the monthly plan.
const LifetimeThresholdMinorUnits int64 = 15000

// zeroDecimalCurrencies are charged in whole units by Stripe.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ClassifyPlan maps a checkout total to a plan.
func ClassifyPlan(totalMinor int64) models.Plan {
	if totalMinor >= LifetimeThresholdMinorUnits {
		return models.PlanLifetime
	}
	return models.PlanMonthly
}

// MajorUnits converts a Stripe amount to the unit shown to users, e.g. 1000 USD cents to 10.00.
// Negative amounts are clamped to zero.
func MajorUnits(minor int64, currency string) float64 {
	if minor <= 0 {
		return 0
	}
	if zeroDecimalCurrencies[NormalizeCurrency(currency)] {
		return float64(minor)
	}
	return float64(minor) / 100
}

// NormalizeCurrency returns the upper-case ISO code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
