package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorToString(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
		want   string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{1.5}, "[1.5]"},
		{"multiple", []float32{1, -2.25, 0.5}, "[1,-2.25,0.5]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VectorToString(tt.vector))
		})
	}
}

func TestStringToVector(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float32
		wantErr bool
	}{
		{"empty brackets", "[]", []float32{}, false},
		{"single", "[1.5]", []float32{1.5}, false},
		{"multiple with spaces", "[1, -2.25, 0.5]", []float32{1, -2.25, 0.5}, false},
		{"missing brackets", "1,2,3", nil, true},
		{"garbage component", "[1,banana,3]", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StringToVector(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.123456, -9.75, 42, 0}

	parsed, err := StringToVector(VectorToString(original))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}
