package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input     string
		major     int
		minor     int
		expectErr bool
	}{
		{"7.0.14", 7, 0, false},
		{"4.4", 4, 4, false},
		{"8.0.0-rc1", 8, 0, false},
		{"6.0.5+enterprise", 6, 0, false},
		{"garbage", 0, 0, true},
		{"7", 0, 0, true},
		{"", 0, 0, true},
		{"x.y.z", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.major, v.Major)
			assert.Equal(t, tt.minor, v.Minor)
			assert.Equal(t, tt.input, v.Full)
		})
	}
}

func TestVersion_AtLeast(t *testing.T) {
	v := Version{Major: 4, Minor: 4}

	assert.True(t, v.AtLeast(4, 4))
	assert.True(t, v.AtLeast(4, 2))
	assert.True(t, v.AtLeast(3, 6))
	assert.False(t, v.AtLeast(4, 6))
	assert.False(t, v.AtLeast(5, 0))

	v8 := Version{Major: 8, Minor: 0}
	assert.True(t, v8.AtLeast(7, 3))
	assert.True(t, v8.AtLeast(8, 0))
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "7.0.14", Version{Major: 7, Minor: 0, Full: "7.0.14"}.String())
	assert.Equal(t, "4.2", Version{Major: 4, Minor: 2}.String())
}

func TestBaseline_IsOldestSupported(t *testing.T) {
	// The fail-safe default must never assume a feature that may not exist.
	assert.False(t, Baseline.AtLeast(4, 2))
	assert.False(t, Baseline.AtLeast(4, 4))
	assert.True(t, Baseline.AtLeast(4, 0))
}
