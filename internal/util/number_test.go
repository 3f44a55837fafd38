package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstNumberAfter(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		key, line string
		want      float64
		ok        bool
	}{
		{"X", "G1 X10 Y5", 10, true},
		{"Y", "G1 X10 Y5", 5, true},
		{"E", "G1 X1 E-2.5", -2.5, true},
		{"X", "G1 X.1 F600", 0.1, true},
		{"X", "G1 X-.1 F600", -0.1, true},
		{"S", "M104 T2 S200", 200, true},
		{"T", "M104 T2 S200", 2, true},
		{"X", "G1 X 12", 12, true},
		{"Z", "G1 X10", 0, false},
		{"S", "M106 S", 0, false},
		{"P", "G4 P1e3", 1000, true},
	}

	for _, tt := range tests {
		v, ok := FirstNumberAfter(tt.key, tt.line)
		assert.Equal(tt.ok, ok, "%s in %q", tt.key, tt.line)
		if tt.ok {
			assert.InDelta(tt.want, v, 1e-9, "%s in %q", tt.key, tt.line)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("1.5", FormatNumber(1.5, 3))
	assert.Equal("2", FormatNumber(2, 3))
	assert.Equal("0.123", FormatNumber(0.12345, 3))
	assert.Equal("10.01", FormatNumber(10.01, 3))
	assert.Equal("0", FormatNumber(-0.0001, 3))
	assert.Equal("-3.25", FormatNumber(-3.25, 2))
}

func TestCloneSlice(t *testing.T) {
	assert := assert.New(t)

	src := []int{1, 2, 3}
	clone := CloneSlice(src, 0)
	clone[0] = 9
	assert.Equal([]int{1, 2, 3}, src)
	assert.Equal([]int{9, 2, 3}, clone)

	assert.Len(CloneSlice(src, 5), 5)
}
