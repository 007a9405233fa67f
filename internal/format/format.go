// Package format renders the numbers shown on the map and detail pages.
package format

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Numbers formats quantities for one locale.
type Numbers struct {
	p *message.Printer
}

// NewNumbers returns a formatter for the given locale.
func NewNumbers(tag language.Tag) Numbers {
	return Numbers{p: message.NewPrinter(tag)}
}

// Default formats with English grouping.
var Default = NewNumbers(language.English)

// CO2 formats tons of CO2 with at most one fraction digit.
func (n Numbers) CO2(tons float64) string {
	return n.p.Sprint(number.Decimal(tons, number.MaxFractionDigits(1)))
}

// Hectares formats an area with at most three fraction digits.
func (n Numbers) Hectares(ha float64) string {
	return n.p.Sprint(number.Decimal(ha, number.MaxFractionDigits(3)))
}

// CO2 formats with the Default locale.
func CO2(tons float64) string { return Default.CO2(tons) }

// Hectares formats with the Default locale.
func Hectares(ha float64) string { return Default.Hectares(ha) }

// AreaLabel is the text drawn inside a polygon being drawn, fixed to two
// decimals regardless of locale so it does not jitter while points are added.
func AreaLabel(ha float64) string {
	return fmt.Sprintf("%.2f ha", ha)
}
