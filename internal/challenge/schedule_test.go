package challenge_test

import (
	"testing"
	"time"

	"dailyrise/internal/challenge"
)

func TestScheduleAt(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		at   string
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
			at:   "14:00",
			want: time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "already passed rolls to tomorrow",
			now:  time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC),
			at:   "14:00",
			want: time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly now rolls to tomorrow",
			now:  time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
			at:   "14:00",
			want: time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			now:  time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC),
			at:   "07:15",
			want: time.Date(2024, 4, 1, 7, 15, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := challenge.ScheduleAt(tc.at, tc.now, nil)
			if err != nil {
				t.Fatalf("schedule: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestScheduleAtLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 11:00 UTC is 13:00 in loc; 14:00 local is still ahead today.
	now := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	got, err := challenge.ScheduleAt("14:00", now, loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got.UTC(), want)
	}
}

func TestScheduleAtRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "9", "24:00", "12:60", "ab:cd", "12:00:00"} {
		if _, err := challenge.ScheduleAt(in, time.Now(), nil); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
