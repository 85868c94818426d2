package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-25 * time.Hour)
	overAnHour := now.Add(-90 * time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never ran", "@daily", nil, true},
		{"daily ran recently", "@daily", &recent, false},
		{"daily ran yesterday", "@daily", &stale, true},
		{"hourly ran recently", "@hourly", &recent, false},
		{"hourly overdue", "@hourly", &overAnHour, true},
		{"cron never ran", "*/5 * * * *", nil, true},
		{"cron overdue", "*/5 * * * *", &recent, true},
		{"invalid spec behaves like daily", "bananas", &recent, false},
		{"invalid spec overdue", "bananas", &stale, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q, %v) = %v, want %v", tc.spec, tc.last, got, tc.want)
			}
		})
	}
}
