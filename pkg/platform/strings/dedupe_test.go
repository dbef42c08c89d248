package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "nil stays nil",
			input: nil,
			want:  nil,
		},
		{
			name:  "broker list with padding and a repeat",
			input: []string{" kafka-1:9092", "kafka-2:9092 ", "kafka-1:9092"},
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "blank entries dropped",
			input: []string{"a", "", "   ", "b"},
			want:  []string{"a", "b"},
		},
		{
			name:  "first occurrence sets the order",
			input: []string{"b", "a", "b", "a"},
			want:  []string{"b", "a"},
		},
		{
			name:  "case is preserved",
			input: []string{"Host", "host"},
			want:  []string{"Host", "host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
