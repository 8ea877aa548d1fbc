package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "ascii", in: "hello", n: 3, want: "hel"},
		{name: "cyrillic counts runes", in: "Привет", n: 3, want: "При"},
		{name: "shorter than limit", in: "да", n: 10, want: "да"},
		{name: "exact", in: "нет", n: 3, want: "нет"},
		{name: "no limit", in: "текст", n: 0, want: "текст"},
		{name: "empty", in: "", n: 5, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestNormalizeSpace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeSpace("  a\n\tb   c "))
	assert.Equal(t, "", NormalizeSpace(" \n "))
	assert.Equal(t, 6, RuneLen("Привет"))
}
