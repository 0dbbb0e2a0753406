package memory

import (
	"errors"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"  Lives in\n Osaka  ", "Lives in Osaka", nil},
		{"", "", ErrEmpty},
		{"   ", "", ErrEmpty},
		{"Thanks!", "", ErrTrivial},
		{"ok", "", ErrTrivial},
		{strings.Repeat("a", MaxContentRunes+1), "", ErrTooLong},
	}
	for _, tt := range tests {
		got, err := Clean(tt.in)
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Errorf("Clean(%q) = %q, %v; want %q, %v", tt.in, got, err, tt.want, tt.err)
		}
	}
}

func TestTerms(t *testing.T) {
	got := Terms("Where does the user live? Live, where!")
	want := []string{"where", "does", "the", "user", "live"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Terms = %v, want %v", got, want)
	}
	if len(Terms("a b c")) != 0 {
		t.Error("one-letter words should be dropped")
	}
}

func TestScore(t *testing.T) {
	if got := Score("User lives in Osaka", []string{"osaka", "lives", "tokyo"}); got != 2 {
		t.Errorf("Score = %d, want 2", got)
	}
}
