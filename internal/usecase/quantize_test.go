package usecase_test

import (
	"testing"

	"github.com/vitos/crypto_signal_trader/internal/usecase"
)

const epsilon = 0.000001

func floatEquals(a, b float64) bool {
	return (a-b) < epsilon && (b-a) < epsilon
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  float64
		dir   usecase.RoundDir
		want  float64
	}{
		{"quantity rounds down to lot step", 12.3456, 0.01, usecase.RoundDown, 12.34},
		{"minimum quantity rounds up", 0.0031, 0.001, usecase.RoundUp, 0.004},
		{"exact multiple unchanged down", 0.5, 0.001, usecase.RoundDown, 0.5},
		{"exact multiple unchanged up", 0.5, 0.001, usecase.RoundUp, 0.5},
		{"integer step", 153.7, 1.0, usecase.RoundDown, 153.0},
		{"zero step passthrough", 12.3456, 0, usecase.RoundDown, 12.3456},
		{"sub-step value drops to zero", 0.0004, 0.001, usecase.RoundDown, 0},
		// 0.1+0.2 is 0.30000000000000004 in binary floats; decimal math must
		// not push it up a step.
		{"binary drift at boundary", 0.1 + 0.2, 0.1, usecase.RoundDown, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usecase.RoundToStep(tt.value, tt.step, tt.dir)
			if !floatEquals(got, tt.want) {
				t.Errorf("RoundToStep(%v, %v) = %v, want %v", tt.value, tt.step, got, tt.want)
			}
		})
	}
}
