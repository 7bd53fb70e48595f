package rpcclient

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		k    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, time.Second},
		{3, time.Second},
		{4, 2 * time.Second},
		{5, 4 * time.Second},
		{6, 8 * time.Second},
		{7, 16 * time.Second},
		{8, 32 * time.Second},
		{9, 64 * time.Second},
		{10, 64 * time.Second},
		{100, 64 * time.Second},
	}
	for _, c := range cases {
		if got := backoffSchedule(c.k); got != c.want {
			t.Errorf("backoffSchedule(%d) = %v, want %v", c.k, got, c.want)
		}
	}
}
