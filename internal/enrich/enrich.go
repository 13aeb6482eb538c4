// Package enrich completes a sparse case from the seller's form submissions.
package enrich

import (
	"fmt"
	"strconv"
	"strings"

	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

// NotSpecified fills display fields nothing could supply.
const NotSpecified = "Not specified"

// DefaultEnergyLabel is assumed when a case has none.
const DefaultEnergyLabel = "C"

// Aux are the auxiliary records merged into a case. Any of them may be nil.
type Aux struct {
	PropertyForm    *models.PropertyForm
	SalePreferences *models.SalePreferences
	Showing         *models.ShowingSchedule
}

// Enrich returns a complete view of skeleton. Form values only fill fields that
// are empty on skeleton itself; the showing schedule always wins. The result
// depends only on skeleton and aux, so Enrich(Enrich(s, a), a) == Enrich(s, a).
func Enrich(skeleton models.Case, aux Aux) models.Case {
	base := skeleton
	out := skeleton

	if pf := aux.PropertyForm; pf != nil {
		fillString(&out.PropertyType, base.PropertyType, pf.PropertyType)
		if pf.Size != nil {
			fillString(&out.Size, base.Size, formatNumber(*pf.Size)+" m²")
		}
		if pf.ConstructionYear != nil {
			fillString(&out.ConstructionYear, base.ConstructionYear, strconv.Itoa(*pf.ConstructionYear))
		}
		if pf.Rooms != nil {
			fillString(&out.Rooms, base.Rooms, formatNumber(*pf.Rooms))
		}
		fillString(&out.Notes, base.Notes, pf.Notes)
		fillString(&out.Municipality, base.Municipality, pf.Municipality)
	}

	if sp := aux.SalePreferences; sp != nil {
		if amount, ok := models.First(sp.ExpectedPrice); ok {
			fillString(&out.Price, base.Price, utils.FormatMillions(amount))
			if base.PriceValue == 0 {
				out.PriceValue = amount
			}
		}
		if months, ok := models.First(sp.Timeframe); ok && base.Timeframe == nil {
			out.Timeframe = &months
			fillString(&out.TimeframeUnit, base.TimeframeUnit, sp.TimeframeUnit)
		}
		if base.FlexiblePrice == nil && sp.FlexiblePrice != nil {
			v := *sp.FlexiblePrice
			out.FlexiblePrice = &v
		}
		if base.Priorities == nil && sp.Priorities != nil {
			p := *sp.Priorities
			out.Priorities = &p
		}
		fillString(&out.SpecialRequests, base.SpecialRequests, sp.SpecialRequests)
		if budget, ok := models.First(sp.MarketingBudget); ok && base.MarketingBudget == nil {
			out.MarketingBudget = &budget
		}
		if base.FreeIfNotSold == nil && sp.FreeIfNotSold != nil {
			v := *sp.FreeIfNotSold
			out.FreeIfNotSold = &v
		}
	}

	if aux.Showing != nil {
		s := *aux.Showing
		out.Showing = &s
	}

	applyDefaults(&out)
	return out
}

func applyDefaults(c *models.Case) {
	if isEmpty(c.Rooms) {
		c.Rooms = NotSpecified
	}
	if isEmpty(c.Size) {
		c.Size = NotSpecified
	}
	if isEmpty(c.Price) {
		c.Price = NotSpecified
	}
	if isEmpty(c.PropertyType) {
		c.PropertyType = NotSpecified
	}
	if c.Status == "" {
		c.Status = models.CaseActive
	}
	if isEmpty(c.EnergyLabel) {
		c.EnergyLabel = DefaultEnergyLabel
	}
	if isEmpty(c.Description) {
		c.Description = describe(c.PropertyType, c.Municipality)
	}
}

func describe(propertyType, municipality string) string {
	if propertyType == NotSpecified {
		propertyType = "Property"
	}
	if isEmpty(municipality) {
		return propertyType
	}
	return fmt.Sprintf("%s in %s", propertyType, municipality)
}

// fillString sets *dst to overlay when the original value is empty.
func fillString(dst *string, original, overlay string) {
	if isEmpty(original) && !isEmpty(overlay) {
		*dst = overlay
	}
}

// isEmpty treats the NotSpecified placeholder as empty so a later form can still fill it.
func isEmpty(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == NotSpecified
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
