package dictionary

import (
	"errors"
	"testing"
)

func TestResolve_SupportedNames(t *testing.T) {
	for _, name := range Names() {
		t.Run(string(name), func(t *testing.T) {
			d, err := Resolve(string(name))
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", name, err)
			}
			if d.IDs <= 0 {
				t.Errorf("Resolve(%q) returned empty codebook", name)
			}
			if d.MarkerBits < 4 || d.MarkerBits > 6 {
				t.Errorf("MarkerBits = %d, want 4..6", d.MarkerBits)
			}
		})
	}
}

func TestResolve_DefaultIsAruco(t *testing.T) {
	def, err := Resolve("DEFAULT")
	if err != nil {
		t.Fatalf("Resolve(DEFAULT) error = %v", err)
	}
	aruco, err := Resolve("ARUCO")
	if err != nil {
		t.Fatalf("Resolve(ARUCO) error = %v", err)
	}
	if def != aruco {
		t.Errorf("DEFAULT = %+v, ARUCO = %+v, want identical", def, aruco)
	}
}

func TestResolve_Unknown(t *testing.T) {
	tests := []string{
		"",
		"BOGUS",
		"aruco",
		"ARUCO_DEFAULT",
		"APRILTAG_36H9",
		" ARUCO",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Resolve(name)
			if !errors.Is(err, ErrUnknownDictionary) {
				t.Errorf("Resolve(%q) error = %v, want ErrUnknownDictionary", name, err)
			}
		})
	}
}

func TestDictionary_Tolerance(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"ARUCO", 0},
		{"APRILTAG_16H5", 2},
		{"APRILTAG_25H9", 4},
		{"APRILTAG_36H10", 4},
		{"APRILTAG_36H11", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := d.Tolerance(); got != tt.want {
				t.Errorf("Tolerance() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNames_Stable(t *testing.T) {
	a := Names()
	b := Names()
	if len(a) != 6 {
		t.Fatalf("Names() returned %d names, want 6", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Names()[%d] differs between calls: %s vs %s", i, a[i], b[i])
		}
	}
}
