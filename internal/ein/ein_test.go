package ein

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AcceptedForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want EIN
	}{
		{"dashed", "12-3456789", "123456789"},
		{"bare", "123456789", "123456789"},
		{"padded_and_ssn_like_dashes", "  123-45-6789 ", "123456789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	e, err := Parse("12-3456789")
	require.NoError(t, err)
	again, err := Parse(e.String())
	require.NoError(t, err)
	assert.Equal(t, e, again)
}

func TestParse_Rejects(t *testing.T) {
	cases := []string{"", "12345", "1234567890", "abcdefghi"}
	for _, in := range cases {
		_, err := Parse(in)
		assert.Error(t, err)
	}
}

func TestDisplay(t *testing.T) {
	e := MustParse("953135649")
	assert.Equal(t, "95-3135649", e.Display())
}
