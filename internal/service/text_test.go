package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Election Results 2024!", "election-results-2024"},
		{"  Harbour -- Reopens  ", "harbour-reopens"},
		{"Ünïcode & Symbols", "n-code-symbols"},
		{"***", ""},
		{"already-a-slug", "already-a-slug"},
		{"Mixed_Case_With_Unders", "mixed-case-with-unders"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "新闻", truncateRunes("新闻稿件", 2))
}
