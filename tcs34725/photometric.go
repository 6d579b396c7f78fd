package tcs34725

import "math"

// Device specific values (DN40 Table 1 in Appendix I)
const (
	DN40_GLASS_ATTENUATION float64 = 1     // GA, 1 for open air
	DN40_DEVICE_FACTOR     float64 = 310.0 // DF
	DN40_R_COEF            float64 = 0.136
	DN40_G_COEF            float64 = 1.0
	DN40_B_COEF            float64 = -0.444
	DN40_CT_COEF           float64 = 3810
	DN40_CT_OFFSET         float64 = 1391

	// Denominators that come out exactly zero are replaced by this value.
	DN40_MIN_DENOMINATOR float64 = 0.001

	// Below this integration time the peak of a mains ripple can saturate
	// the ADC before the average count does (DN40 3.7).
	RIPPLE_INTEGRATION_MS float64 = 150
	// Above this cycle count the 16 bit counter saturates before the ADC.
	DIGITAL_SATURATION_CYCLES = 63
)

// RawSample is one RGBC reading, all channels from the same integration cycle.
type RawSample struct {
	Red   uint16 `json:"red"`
	Green uint16 `json:"green"`
	Blue  uint16 `json:"blue"`
	Clear uint16 `json:"clear"`
}

// RGB scales the color channels against the clear channel to 0-255.
func (s RawSample) RGB() (r, g, b uint8) {
	if s.Clear == 0 {
		return 0, 0, 0
	}
	scale := func(v uint16) uint8 {
		return uint8(math.Min(255, float64(v)/float64(s.Clear)*255))
	}
	return scale(s.Red), scale(s.Green), scale(s.Blue)
}

// Reading is the photometric result for one sample. Lux and CCT are
// undefined when Saturated is set.
type Reading struct {
	Lux       float64 `json:"lux"`
	CCT       float64 `json:"cct"`
	Saturated bool    `json:"saturated"`

	Sample            RawSample `json:"sample"`
	Gain              int       `json:"gain"`
	IntegrationTimeMs float64   `json:"integration_time_ms"`
	Revision          uint64    `json:"revision"`
}

// Plausible reports whether the values look like visible light. CCT is not
// clamped, so heavily filtered or saturated sources can produce nonsense.
func (r Reading) Plausible() bool {
	return !r.Saturated && r.Lux >= 0 && r.CCT >= 1000 && r.CCT <= 40000
}

func fullScale(cycles int) float64 {
	if cycles > DIGITAL_SATURATION_CYCLES {
		return 65535
	}
	return 1024 * float64(cycles)
}

// SaturationCeiling is the clear count at or above which a sample is
// treated as saturated (DN40 3.5, 3.7).
func SaturationCeiling(cycles int) float64 {
	ceiling := fullScale(cycles)
	if IntegrationTimeMs(cycles) < RIPPLE_INTEGRATION_MS {
		ceiling -= ceiling / 4
	}
	return ceiling
}

// Compute converts a raw sample to lux and color temperature using DN40.
func Compute(sample RawSample, gain int, integrationMs float64) Reading {
	res := Reading{
		Sample:            sample,
		Gain:              gain,
		IntegrationTimeMs: integrationMs,
	}

	R := float64(sample.Red)
	G := float64(sample.Green)
	B := float64(sample.Blue)
	C := float64(sample.Clear)

	if C >= SaturationCeiling(cyclesFor(integrationMs)) {
		res.Saturated = true
		return res
	}

	// IR Rejection (DN40 3.1)
	ir := math.Max(0, R+G+B-C) / 2
	R2 := R - ir
	G2 := G - ir
	B2 := B - ir

	// Lux Calculation (DN40 3.2)
	G1 := DN40_R_COEF*R2 + DN40_G_COEF*G2 + DN40_B_COEF*B2
	cpl := (integrationMs * float64(gain)) / (DN40_GLASS_ATTENUATION * DN40_DEVICE_FACTOR)
	if cpl == 0 {
		cpl = DN40_MIN_DENOMINATOR
	}
	res.Lux = G1 / cpl

	// CT Calculations (DN40 3.4)
	if R2 == 0 {
		R2 = DN40_MIN_DENOMINATOR
	}
	res.CCT = DN40_CT_COEF*B2/R2 + DN40_CT_OFFSET
	return res
}
