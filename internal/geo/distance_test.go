package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_Lagos(t *testing.T) {
	d := Distance(6.5244, 3.3792, 6.5300, 3.3850)
	assert.InDelta(t, 0.85, d, 0.1)
}

func TestDistance_Symmetric(t *testing.T) {
	points := [][2]float64{
		{6.5244, 3.3792},
		{51.5074, -0.1278},
		{-33.8688, 151.2093},
		{40.7128, -74.0060},
	}
	for _, a := range points {
		for _, b := range points {
			assert.Equal(t, Distance(a[0], a[1], b[0], b[1]), Distance(b[0], b[1], a[0], a[1]))
		}
	}
}

func TestDistance_SamePoint(t *testing.T) {
	assert.Equal(t, 0.0, Distance(6.5244, 3.3792, 6.5244, 3.3792))
	assert.Equal(t, 0.0, Distance(-90, 0, -90, 0))
}

func TestDistance_MonotonicAlongMeridian(t *testing.T) {
	prev := 0.0
	for lat := 1.0; lat <= 90; lat++ {
		d := Distance(0, 0, lat, 0)
		assert.Greater(t, d, prev, "lat %v", lat)
		prev = d
	}
}

func TestDistance_LondonParis(t *testing.T) {
	d := Distance(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 343.5, d, 1.0)
}

func TestDistance_Antipodal(t *testing.T) {
	halfCircumference := math.Pi * EarthRadiusKm
	for _, p := range [][4]float64{
		{0, 0, 0, 180},
		{6.5244, 3.3792, -6.5244, -176.6208},
		{45, 90, -45, -90},
		{89.999999, 0, -89.999999, 180},
	} {
		d := Distance(p[0], p[1], p[2], p[3])
		assert.False(t, math.IsNaN(d), "%v", p)
		assert.InDelta(t, halfCircumference, d, 0.01, "%v", p)
	}
}
