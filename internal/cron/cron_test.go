package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"@every",
		"@every sometimes",
		"@fortnightly",
		"* * *",
		"* * * * * *", // seconds field is not accepted
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"abc * * * *",
	}
	for _, spec := range bad {
		_, err := Parse(spec)
		require.Error(t, err, "spec %q", spec)
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 20, 0, 0, time.UTC) // a Monday

	tests := []struct {
		name string
		spec string
		from time.Time
		want time.Time
	}{
		{
			name: "every duration adds from now",
			spec: "@every 5m",
			from: base,
			want: base.Add(5 * time.Minute),
		},
		{
			name: "hourly on the boundary fires the next hour",
			spec: "@hourly",
			from: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "daily",
			spec: "@daily",
			from: base,
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "minute field",
			spec: "45 * * * *",
			from: base,
			want: time.Date(2025, 3, 10, 14, 45, 0, 0, time.UTC),
		},
		{
			name: "step and range with weekday window",
			spec: "*/15 9-17 * * 1-5",
			from: base,
			want: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
		{
			name: "day-of-month list",
			spec: "0 0 1,15 * *",
			from: base,
			want: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekday rolls over the weekend",
			spec: "0 9 * * 1",
			from: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "year rollover",
			spec: "0 0 1 1 *",
			from: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "leap day waits for the next leap year",
			spec: "0 12 29 2 *",
			from: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.spec)
			require.NoError(t, err)

			got, ok := s.Next(tt.from)
			require.True(t, ok)
			require.Equal(t, tt.want, got)

			// Advancing from the returned time yields a strictly later one.
			after, ok := s.Next(got)
			require.True(t, ok)
			require.True(t, after.After(got))
		})
	}
}

func TestScheduleNextNeverFires(t *testing.T) {
	// February 30th parses but can never occur; Next reports that instead of
	// searching forever.
	s, err := Parse("0 0 30 2 *")
	require.NoError(t, err)

	_, ok := s.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.False(t, ok)
}
