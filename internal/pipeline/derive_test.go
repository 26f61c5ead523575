package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

func fptr(v float64) *float64 { return &v }

func TestHeatIndexC(t *testing.T) {
	tests := []struct {
		name  string
		temp  *float64
		rh    *float64
		check func(t *testing.T, got *float64)
	}{
		{
			name: "missing temperature",
			temp: nil, rh: fptr(50),
			check: func(t *testing.T, got *float64) { assert.Nil(t, got) },
		},
		{
			name: "missing humidity",
			temp: fptr(30), rh: nil,
			check: func(t *testing.T, got *float64) { assert.Nil(t, got) },
		},
		{
			name: "below temperature bound passes through",
			temp: fptr(26.9), rh: fptr(90),
			check: func(t *testing.T, got *float64) {
				require.NotNil(t, got)
				assert.InDelta(t, 26.9, *got, 1e-9)
			},
		},
		{
			name: "below humidity bound passes through",
			temp: fptr(30), rh: fptr(20),
			check: func(t *testing.T, got *float64) {
				require.NotNil(t, got)
				assert.InDelta(t, 30.0, *got, 1e-9)
			},
		},
		{
			name: "regression regime amplifies",
			temp: fptr(32), rh: fptr(70),
			check: func(t *testing.T, got *float64) {
				require.NotNil(t, got)
				assert.Greater(t, *got, 32.0)
				assert.Less(t, *got, 45.0)
			},
		},
		{
			name: "hot and humid is dangerous",
			temp: fptr(38), rh: fptr(80),
			check: func(t *testing.T, got *float64) {
				require.NotNil(t, got)
				assert.Greater(t, *got, 50.0)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, HeatIndexC(tt.temp, tt.rh))
		})
	}
}

func TestApplyHeatIndex(t *testing.T) {
	obs := []model.Observation{
		{TempC: fptr(33), RHPct: fptr(65)},
		{TempC: fptr(25), RHPct: fptr(65)},
		{TempC: fptr(33)},
	}
	ApplyHeatIndex(obs)

	require.NotNil(t, obs[0].HeatIndexC)
	assert.Greater(t, *obs[0].HeatIndexC, 33.0)
	require.NotNil(t, obs[1].HeatIndexC)
	assert.InDelta(t, 25.0, *obs[1].HeatIndexC, 1e-9)
	assert.Nil(t, obs[2].HeatIndexC)
}
