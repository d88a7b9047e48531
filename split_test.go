package gbptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		sizes []int
		gap   int
		want  int
	}{
		{"even", []int{10, 10, 10, 10}, 0, 2},
		{"one large entry", []int{90, 10, 10, 10}, 0, 1},
		{"large tail", []int{10, 10, 10, 90}, 0, 3},
		{"two entries", []int{5, 50}, 0, 1},
		{"pushed up middle", []int{10, 10, 10, 10, 10}, 1, 2},
		{"pushed up large", []int{10, 10, 60, 10, 10}, 1, 2},
		{"three keys", []int{10, 10, 10}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, balance(tt.sizes, tt.gap))
		})
	}
}
