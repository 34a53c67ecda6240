package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
		{"", true, true},
	}
	for _, c := range cases {
		t.Setenv("FLOWREPLY_TEST_BOOL", c.value)
		if got := ParseBoolEnv("FLOWREPLY_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value string
		def   int
		want  int
	}{
		{"42", 0, 42},
		{"-3", 0, -3},
		{" 7 ", 0, 7},
		{"1.5", 9, 9},
		{"abc", 9, 9},
		{"", 9, 9},
	}
	for _, c := range cases {
		t.Setenv("FLOWREPLY_TEST_INT", c.value)
		if got := ParseIntEnv("FLOWREPLY_TEST_INT", c.def); got != c.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", c.value, c.def, got, c.want)
		}
	}
}
