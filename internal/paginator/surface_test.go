package paginator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageNumberFrom(t *testing.T) {
	child := func(text string) func() (string, bool) {
		return func() (string, bool) { return text, true }
	}
	missing := func() (string, bool) { return "", false }

	tests := []struct {
		name   string
		text   string
		child  func() (string, bool)
		want   int
		wantOK bool
	}{
		{"plain number", "3", missing, 3, true},
		{"padded", "  12\n", missing, 12, true},
		{"falls back to child", "Page 4 of 9", child("4"), 4, true},
		{"empty active text uses child", "", child(" 7 "), 7, true},
		{"child unreadable", "current", missing, 0, false},
		{"child not a number", "current", child("…"), 0, false},
		{"nil child", "x", nil, 0, false},
		{"zero is not a page", "0", missing, 0, false},
		{"negative", "-2", missing, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := pageNumberFrom(tt.text, tt.child)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestPagePattern(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"3", true},
		{" 3 ", true},
		{"\n3\t", true},
		{"13", false},
		{"31", false},
		{"3 / page", false},
		{"Next", false},
	}

	re := pagePattern(3)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, re.MatchString(tt.text))
		})
	}
}

func TestIsDisabled(t *testing.T) {
	tests := []struct {
		name  string
		aria  string
		class string
		want  bool
	}{
		{"enabled", "", "ant-pagination-next", false},
		{"aria true", "true", "ant-pagination-next", true},
		{"aria mixed case", "True", "", true},
		{"aria false", "false", "ant-pagination-item", false},
		{"ant disabled class", "", "ant-pagination-next ant-pagination-disabled", true},
		{"element disabled class", "", "btn-next is-disabled", true},
		{"plain disabled class", "", "disabled", true},
		{"no attributes", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDisabled(tt.aria, tt.class))
		})
	}
}
