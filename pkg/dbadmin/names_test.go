package dbadmin

import (
	"strings"
	"testing"
)

const namesTestPrefix = "dbadmin:names_test"

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		pw, err := generatePassword()
		if err != nil {
			t.Fatalf("%s - generatePassword failed: %v", namesTestPrefix, err)
		}
		if len(pw) != 32 || strings.ContainsAny(pw, "+/=") {
			t.Errorf("%s - password %q is not 32 URL-safe characters", namesTestPrefix, pw)
		}
		if seen[pw] {
			t.Errorf("%s - password %q repeated", namesTestPrefix, pw)
		}
		seen[pw] = true
	}
}
