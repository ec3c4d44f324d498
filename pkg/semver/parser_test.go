package semver

import (
	"testing"
)

const parserTestPrefix = "semver:parser_test"

func TestParseDebianVersion(t *testing.T) {
	tests := []struct {
		input    string
		epoch    int
		upstream string
		revision string
	}{
		{"14.10", 0, "14.10", ""},
		{"14.10-0ubuntu0.22.04.1", 0, "14.10", "0ubuntu0.22.04.1"},
		{"1:2.3.4-1", 1, "2.3.4", "1"},
		{"2.0~rc1-3", 0, "2.0~rc1", "3"},
		{"  9.6.24-1.pgdg20.04+1 ", 0, "9.6.24", "1.pgdg20.04+1"},
		{"1.2-3-4", 0, "1.2-3", "4"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseDebianVersion(tt.input)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", parserTestPrefix, err)
			}
			if v.Epoch != tt.epoch || v.Upstream != tt.upstream || v.Revision != tt.revision {
				t.Errorf("%s - got (%d, %q, %q), want (%d, %q, %q)",
					parserTestPrefix, v.Epoch, v.Upstream, v.Revision, tt.epoch, tt.upstream, tt.revision)
			}
		})
	}
}

func TestParseDebianVersion_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "x:1.0", "abc", "1.0-", "-1:1.0"} {
		if _, err := ParseDebianVersion(input); err == nil {
			t.Errorf("%s - expected error for %q", parserTestPrefix, input)
		}
	}
}

func TestDebianVersion_SemVer(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"14.10-0ubuntu0.22.04.1", "14.10.0"},
		{"1:2.3.4-1", "2.3.4"},
		{"12", "12.0.0"},
		{"1.2.3.4", "1.2.3"},
		{"2.0~rc1-3", "2.0.0-rc1"},
		{"3.1+dfsg-2", "3.1.0"},
	}
	for _, tt := range tests {
		v, err := ParseDebianVersion(tt.input)
		if err != nil {
			t.Fatalf("%s - parse %q: %v", parserTestPrefix, tt.input, err)
		}
		sv, err := v.SemVer()
		if err != nil {
			t.Fatalf("%s - SemVer(%q): %v", parserTestPrefix, tt.input, err)
		}
		if sv.String() != tt.want {
			t.Errorf("%s - SemVer(%q) = %s, want %s", parserTestPrefix, tt.input, sv.String(), tt.want)
		}
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"14", true},
		{"0", true},
		{"14.1", false},
		{"^14", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMajorOnly(tt.input); got != tt.want {
			t.Errorf("%s - IsMajorOnly(%q) = %v, want %v", parserTestPrefix, tt.input, got, tt.want)
		}
	}
}
