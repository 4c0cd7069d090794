package scan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short passthrough", "104567890", "104567890"},
		{"short trimmed", "  SN-554422 \n", "SN-554422"},
		{"exactly 20 chars kept", strings.Repeat("x", 20), strings.Repeat("x", 20)},
		{"long with digit run", "JUNKJUNKJUNK104567890JUNKJUNK", "104567890"},
		{"long digit run capped at 10", "noise-prefix-1234567890123-suffix", "1234567890"},
		{"long run of five skipped", "aaaaaaaaaaaaaaaa12345bbb1234567ccc", "1234567"},
		{"long without digit run unchanged", strings.Repeat("A", 25), strings.Repeat("A", 25)},
		{"length counted in characters not bytes", "ññññññ 104567890", "ññññññ 104567890"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"104567890",
		"SN-554422",
		"prefixprefixprefix123456suffix",
		strings.Repeat("Z", 30),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", in)
	}
}

func TestNewEventTagsGeneration(t *testing.T) {
	ev := NewEvent("104567890", SourceCamera, 7)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "104567890", ev.Code)
	assert.Equal(t, SourceCamera, ev.Source)
	assert.Equal(t, uint64(7), ev.Generation)
}
