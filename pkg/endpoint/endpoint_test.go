package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		eid     string
		want    bool
	}{
		{"dtn://a/app", "dtn://a/app", true},
		{"dtn://a/app", "dtn://a/other", false},
		{"dtn://a/*", "dtn://a/app", true},
		{"dtn://a/*", "dtn://a", true},
		{"dtn://a/*", "dtn://ab", false},
		{"*", "dtn://anything/at/all", true},
		{"ipn:5.12", "ipn:5.12", true},
		{"ipn:5.*", "ipn:5.12", true},
		{"ipn:5.*", "ipn:6.12", false},
		{"ipn:5.*", "dtn://a", false},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Match(c.pattern, bpwire.EID(c.eid)),
			"pattern %q vs %q", c.pattern, c.eid)
	}
}

func TestMatchLenOrdersSpecificity(t *testing.T) {
	// exact > wildcard > catch-all
	assert.Greater(t, MatchLen("dtn://a/app"), MatchLen("dtn://a/*"))
	assert.Greater(t, MatchLen("dtn://a/*"), MatchLen("*"))
}

func TestParseIPN(t *testing.T) {
	node, service, err := ParseIPN("ipn:5.12")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), node)
	assert.Equal(t, uint64(12), service)

	_, _, err = ParseIPN("ipn:noservice")
	assert.Error(t, err)
	_, _, err = ParseIPN("dtn://a")
	assert.Error(t, err)
}

func TestIPNFormat(t *testing.T) {
	assert.Equal(t, bpwire.EID("ipn:5.12"), IPN(5, 12))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("dtn://a/app"))
	assert.True(t, Valid("ipn:5.12"))
	assert.False(t, Valid("ipn:bogus"))
	assert.False(t, Valid("noscheme"))
	assert.False(t, Valid(""))
}
