package tcs34725

// Auto-exposure constants.
const (
	// Clear counts below this are undersaturated; also the low interrupt
	// threshold recommended for the sensor.
	UNDERSATURATED_CLEAR = 100
	// At max gain and above the ripple floor, clear counts at or above this
	// shorten the integration time instead of dropping the gain.
	HIGH_SATURATION_CLEAR = 2000
	// Integration time adjustments are made in steps of this size.
	INTEGRATION_STEP_MS float64 = 50
	// 64 cycles (153.6ms) is the shortest integration that is free of
	// ripple saturation and reaches the digital full scale.
	RIPPLE_SAFE_CYCLES = 64
	// The high threshold sits 1/20th (5%) below the saturation ceiling.
	THRESHOLD_MARGIN_DIVISOR = 20
)

const maxGainIndex = len(Gains) - 1

// Exposure is the pair of analog settings the controller tunes.
type Exposure struct {
	GainIndex int
	Cycles    int
}

func (e Exposure) Gain() int { return Gains[e.GainIndex] }

func (e Exposure) IntegrationTimeMs() float64 { return IntegrationTimeMs(e.Cycles) }

func (e Exposure) maxGain() bool { return e.GainIndex >= maxGainIndex }

// NextExposure decides the settings for the next cycles given the latest
// sample. The max gain / above ripple floor / high clear case is checked
// before the generic gain reduction so the loop does not oscillate between
// gain and integration time.
func NextExposure(cur Exposure, sample RawSample) Exposure {
	next := cur
	clear := int(sample.Clear)

	switch {
	case clear < UNDERSATURATED_CLEAR:
		if !cur.maxGain() {
			next.GainIndex++
		} else {
			next.Cycles = cyclesFor(cur.IntegrationTimeMs() + INTEGRATION_STEP_MS)
		}
	case cur.maxGain() && cur.Cycles > RIPPLE_SAFE_CYCLES && clear >= HIGH_SATURATION_CLEAR:
		next.Cycles = max(RIPPLE_SAFE_CYCLES, cyclesFor(cur.IntegrationTimeMs()-INTEGRATION_STEP_MS))
	default:
		next.GainIndex = max(0, cur.GainIndex-1)
	}
	return next
}

// ThresholdsFor returns the interrupt window for an exposure: the sensor
// interrupts once the clear channel leaves the range the exposure handles.
func ThresholdsFor(e Exposure) Thresholds {
	t := Thresholds{Low: UNDERSATURATED_CLEAR}
	if e.maxGain() && e.Cycles >= TCS34725_MAX_CYCLES {
		// Nothing left to increase.
		t.Low = 0
	}

	if e.maxGain() && e.Cycles > RIPPLE_SAFE_CYCLES {
		t.High = HIGH_SATURATION_CLEAR
	} else {
		ceiling := SaturationCeiling(e.Cycles)
		t.High = uint16(ceiling - ceiling/THRESHOLD_MARGIN_DIVISOR)
	}
	return t
}
