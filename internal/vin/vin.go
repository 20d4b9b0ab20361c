// Package vin fills in missing vehicle fields on an estimate from its VIN.
package vin

import (
	"context"
	"errors"
	"strings"

	"github.com/supplementiq/backend/internal/models"
)

var (
	ErrInvalid  = errors.New("invalid vin")
	ErrNotFound = errors.New("vin not decoded")
)

// Vehicle is what a decoder learned about a VIN. Zero values mean unknown.
type Vehicle struct {
	Make  string
	Model string
	Year  int
}

type Decoder interface {
	Decode(ctx context.Context, vin string) (Vehicle, error)
}

// yearCodes maps position 10 of a VIN to an offset within a 30-year cycle.
const yearCodes = "ABCDEFGHJKLMNPRSTVWXY123456789"

// Normalize upper-cases and validates a 17 character VIN.
func Normalize(vin string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(vin))
	if len(v) != 17 {
		return "", ErrInvalid
	}
	for _, r := range v {
		switch {
		case r == 'I' || r == 'O' || r == 'Q':
			return "", ErrInvalid
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return "", ErrInvalid
		}
	}
	return v, nil
}

// ModelYear decodes the model year offline. A numeric 7th character puts the
// year in the 1980-2009 cycle, a letter in 2010-2039.
func ModelYear(vin string) (int, error) {
	v, err := Normalize(vin)
	if err != nil {
		return 0, err
	}
	idx := strings.IndexByte(yearCodes, v[9])
	if idx < 0 {
		return 0, ErrInvalid
	}
	if v[6] >= '0' && v[6] <= '9' {
		return 1980 + idx, nil
	}
	return 2010 + idx, nil
}

// NeedsDecode reports whether est has a VIN and is missing a vehicle field.
func NeedsDecode(est models.EstimateContext) bool {
	if strings.TrimSpace(est.VIN) == "" {
		return false
	}
	return !est.VehicleMake.IsKnown() || !est.VehicleModel.IsKnown() || !est.VehicleYear.IsKnown()
}

// Enrich returns a copy of est with unknown make, model and year filled from
// the VIN. Known fields are never overwritten. A nil decoder only fills the
// year. Decoder failures are returned alongside the best-effort copy.
func Enrich(ctx context.Context, d Decoder, est models.EstimateContext) (models.EstimateContext, error) {
	if !NeedsDecode(est) {
		return est, nil
	}
	out := est
	out.Items = append([]models.EstimateItem(nil), est.Items...)

	if !out.VehicleYear.IsKnown() {
		if y, err := ModelYear(est.VIN); err == nil {
			out.VehicleYear = models.Known(y)
		}
	}
	if d == nil {
		return out, nil
	}
	if out.VehicleMake.IsKnown() && out.VehicleModel.IsKnown() {
		return out, nil
	}

	v, err := d.Decode(ctx, est.VIN)
	if err != nil {
		return out, err
	}
	if !out.VehicleMake.IsKnown() && v.Make != "" {
		out.VehicleMake = models.Known(v.Make)
	}
	if !out.VehicleModel.IsKnown() && v.Model != "" {
		out.VehicleModel = models.Known(v.Model)
	}
	if !out.VehicleYear.IsKnown() && v.Year > 0 {
		out.VehicleYear = models.Known(v.Year)
	}
	return out, nil
}
