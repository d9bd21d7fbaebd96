package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	bound := []string{"machine:aaa", "mac:bbb", "cpu:ccc", "host:ddd", "mac:eee"}

	tests := []struct {
		name        string
		collected   []string
		bound       []string
		minMatching int
		want        bool
	}{
		{
			name:        "all match",
			collected:   bound,
			bound:       bound,
			minMatching: 5,
			want:        true,
		},
		{
			name:        "three of five in different order",
			collected:   []string{"cpu:ccc", "machine:aaa", "host:ddd"},
			bound:       bound,
			minMatching: 3,
			want:        true,
		},
		{
			name:        "two of five below threshold",
			collected:   []string{"machine:aaa", "mac:bbb"},
			bound:       bound,
			minMatching: 3,
			want:        false,
		},
		{
			name:        "threshold above matches fails even with extras collected",
			collected:   []string{"machine:aaa", "mac:other", "cpu:other"},
			bound:       bound,
			minMatching: 2,
			want:        false,
		},
		{
			name:        "empty bound set fails closed",
			collected:   []string{"machine:aaa"},
			bound:       nil,
			minMatching: 1,
			want:        false,
		},
		{
			name:        "zero threshold fails closed",
			collected:   bound,
			bound:       bound,
			minMatching: 0,
			want:        false,
		},
		{
			name:        "negative threshold fails closed",
			collected:   bound,
			bound:       bound,
			minMatching: -1,
			want:        false,
		},
		{
			name:        "threshold above bound size fails closed",
			collected:   bound,
			bound:       bound,
			minMatching: 6,
			want:        false,
		},
		{
			name:        "empty collected set",
			collected:   nil,
			bound:       bound,
			minMatching: 1,
			want:        false,
		},
		{
			name:        "duplicate bound entries count once per position",
			collected:   []string{"machine:aaa"},
			bound:       []string{"machine:aaa", "machine:aaa"},
			minMatching: 2,
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.collected, tt.bound, tt.minMatching))
		})
	}
}

func TestStaticProviderCopies(t *testing.T) {
	p := &StaticProvider{Fingerprints: []string{"a", "b"}}

	got := p.Collect()
	got[0] = "mutated"

	assert.Equal(t, []string{"a", "b"}, p.Fingerprints)
}

func TestSystemProviderCollects(t *testing.T) {
	p := NewSystemProvider()

	prints := p.Collect()
	assert.NotEmpty(t, prints)

	for _, f := range prints {
		hasKnownPrefix := false
		for _, prefix := range []string{"machine:", "mac:", "cpu:", "host:"} {
			if strings.HasPrefix(f, prefix) {
				hasKnownPrefix = true
				break
			}
		}
		assert.True(t, hasKnownPrefix, "unexpected fingerprint %q", f)
	}
}

func TestSystemProviderStable(t *testing.T) {
	p := NewSystemProvider()
	assert.Equal(t, p.Collect(), p.Collect())
}
