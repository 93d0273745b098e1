package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCDTCode(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"D0120", true},
		{"D2391", true},
		{"D4341A", true},
		{" D1110 ", true},
		{"D123", false},
		{"DA123", false},
		{"12345", false},
		{"D12345", false},
		{"D0120AB", false},
		{"d0120", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCDTCode(tt.input))
		})
	}
}

func TestFindCDTCodes(t *testing.T) {
	text := "D0120 Periodic eval; D1110 Prophylaxis adult; D0120 again; D123 too short; D12345 too long; D4341A"
	assert.Equal(t, []string{"D0120", "D1110", "D4341A"}, FindCDTCodes(text))
	assert.Empty(t, FindCDTCodes("no procedures here"))
}
