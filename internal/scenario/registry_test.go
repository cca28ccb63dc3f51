package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClarifiers(t *testing.T) {
	reg := MustNewDefault()

	tests := []struct {
		intent string
		want   []string
	}{
		{
			intent: "EXIT_LOAD",
			want:   []string{"Is this for SIP or Lumpsum?", "What is the holding period?"},
		},
		{
			intent: "EXPENSE_RATIO",
			want:   []string{"Direct or Regular plan?"},
		},
		{
			intent: "STAMP_DUTY",
			want:   []string{},
		},
		{
			intent: "UNREGISTERED",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			got := reg.Clarifiers(tt.intent)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	reg := MustNewDefault()
	assert.True(t, reg.Registered("STAMP_DUTY"))
	assert.True(t, reg.Registered("TAXATION"))
	assert.False(t, reg.Registered("NAV"))
}

func TestCheckVersion(t *testing.T) {
	reg := MustNewDefault()

	require.NoError(t, reg.CheckVersion(reg.Version()))

	err := reg.CheckVersion("0.9")
	require.Error(t, err)
	var stale *ErrStaleVersion
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "0.9", stale.Got)
	assert.Equal(t, reg.Version(), stale.Want)
}

func TestParse_MissingVersion(t *testing.T) {
	_, err := Parse([]byte("scenarios: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing version")
}
