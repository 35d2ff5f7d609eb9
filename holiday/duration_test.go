package holiday

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/generic"
)

func TestParseLegacyDuration(t *testing.T) {
	tests := []struct {
		in      string
		day     string
		want    string
		wantErr bool
	}{
		{"8 days, 9:47:00", "7.5", "69.78", false},
		{"1 day, 0:00:00", "7.5", "7.5", false},
		{"25 days, 7:30:00", "7.5", "195", false},
		{"8 days, 9:47:00", "8", "73.78", false},
		{"9:47:00", "7.5", "9.78", false},
		{"7:30", "7.5", "7.5", false},
		{"37.5", "7.5", "37.5", false},
		{"  12  ", "7.5", "12", false},
		{"", "7.5", "", true},
		{"soon", "7.5", "", true},
		{"9:75", "7.5", "", true},
		{"-3", "7.5", "", true},
		{"2 days, 1:00:00", "0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLegacyDuration(tt.in, dec(tt.day))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDuration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, generic.UnitHours, got.Unit)
			assert.True(t, got.Amount.Equal(dec(tt.want)), "got %s", got.Amount)
		})
	}
}

func TestParseClockValue(t *testing.T) {
	v, err := ParseClockValue("7:30")
	require.NoError(t, err)
	assert.True(t, v.Equal(dec("7.5")))

	v, err = ParseClockValue("0:20:00")
	require.NoError(t, err)
	assert.True(t, v.Equal(dec("0.33")))

	_, err = ParseClockValue("7.5")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestParseSessionCount(t *testing.T) {
	got, err := ParseSessionCount("36")
	require.NoError(t, err)
	assert.Equal(t, generic.UnitSessions, got.Unit)
	assert.True(t, got.ToAmount().Equal(generic.NewAmount(36, generic.UnitSessions)))

	_, err = ParseSessionCount("5.5")
	assert.NoError(t, err)

	for _, bad := range []string{"5.3", "-1", "x", ""} {
		_, err := ParseSessionCount(bad)
		assert.ErrorIs(t, err, ErrInvalidDuration, bad)
	}
}
