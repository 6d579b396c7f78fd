package tcs34725

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextExposure(t *testing.T) {
	tests := []struct {
		name  string
		cur   Exposure
		clear uint16
		want  Exposure
	}{
		{"dark raises gain", Exposure{0, 64}, 50, Exposure{1, 64}},
		{"dark at max gain lengthens integration", Exposure{3, 64}, 50, Exposure{3, 85}},
		{"dark at max gain and max integration", Exposure{3, 256}, 0, Exposure{3, 256}},
		{"bright at max gain shortens integration", Exposure{3, 125}, 2500, Exposure{3, 104}},
		{"shortening stops at the ripple floor", Exposure{3, 80}, 2500, Exposure{3, 64}},
		{"bright at the ripple floor drops gain", Exposure{3, 64}, 2500, Exposure{2, 64}},
		{"max gain below high clear drops gain", Exposure{3, 200}, 1500, Exposure{2, 200}},
		{"in range drops gain", Exposure{2, 64}, 500, Exposure{1, 64}},
		{"gain floor", Exposure{0, 64}, 60000, Exposure{0, 64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextExposure(tt.cur, RawSample{Clear: tt.clear}))
		})
	}
}

func TestThresholdsFor(t *testing.T) {
	assert.Equal(t, Thresholds{Low: 100, High: 62258}, ThresholdsFor(Exposure{0, 64}))
	assert.Equal(t, Thresholds{Low: 0, High: 2000}, ThresholdsFor(Exposure{3, 256}))
	assert.Equal(t, Thresholds{Low: 100, High: 2000}, ThresholdsFor(Exposure{3, 65}))
	assert.Equal(t, Thresholds{Low: 100, High: 62258}, ThresholdsFor(Exposure{3, 64}))
	assert.Equal(t, Thresholds{Low: 100, High: 729}, ThresholdsFor(Exposure{1, 1}))
}

func TestThresholdsWindowIsNeverEmpty(t *testing.T) {
	for idx := range Gains {
		for cycles := 1; cycles <= TCS34725_MAX_CYCLES; cycles++ {
			e := Exposure{GainIndex: idx, Cycles: cycles}
			th := ThresholdsFor(e)
			if !assert.Less(t, th.Low, th.High, "%+v", e) {
				return
			}
			assert.LessOrEqual(t, float64(th.High), SaturationCeiling(cycles), "%+v", e)
		}
	}
}

func TestExposureConverges(t *testing.T) {
	// Repeated dark samples walk to the longest exposure, bright ones back.
	e := Exposure{0, 64}
	for i := 0; i < 20; i++ {
		e = NextExposure(e, RawSample{Clear: 10})
	}
	assert.Equal(t, Exposure{3, 256}, e)

	for i := 0; i < 20; i++ {
		e = NextExposure(e, RawSample{Clear: 3000})
	}
	assert.Equal(t, Exposure{0, 64}, e)
}
