package bot

import "testing"

func TestHourLabel(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{0, "12:00 AM"},
		{1, "1:00 AM"},
		{11, "11:00 AM"},
		{12, "12:00 PM"},
		{13, "1:00 PM"},
		{23, "11:00 PM"},
	}
	for _, tc := range cases {
		if got := hourLabel(tc.hour); got != tc.want {
			t.Fatalf("hourLabel(%d) = %q, ожидали %q", tc.hour, got, tc.want)
		}
	}
}
