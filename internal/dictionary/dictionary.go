// Package dictionary resolves marker family names to predefined codebooks.
package dictionary

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrUnknownDictionary is returned when a name is not in the supported set.
var ErrUnknownDictionary = errors.New("unknown dictionary")

// Name identifies a supported marker family. Names are matched exactly;
// "aruco" is not the same as "ARUCO".
type Name string

// Supported dictionary names.
const (
	Default       Name = "DEFAULT"
	Aruco         Name = "ARUCO"
	AprilTag16h5  Name = "APRILTAG_16H5"
	AprilTag25h9  Name = "APRILTAG_25H9"
	AprilTag36h10 Name = "APRILTAG_36H10"
	AprilTag36h11 Name = "APRILTAG_36H11"
)

// Dictionary describes a predefined marker codebook.
type Dictionary struct {
	Name Name
	Code gocv.ArucoDictionaryCode

	// MarkerBits is the side length of the inner bit grid.
	MarkerBits int
	// IDs is the number of distinct markers in the codebook.
	IDs int
	// MinHamming is the family's published minimum Hamming distance
	// between codewords, or 0 where the family does not publish one.
	MinHamming int
}

// Tolerance returns the number of bit errors the codebook can correct
// without ambiguity.
func (d Dictionary) Tolerance() int {
	if d.MinHamming <= 0 {
		return 0
	}
	return (d.MinHamming - 1) / 2
}

// String implements fmt.Stringer.
func (d Dictionary) String() string {
	return fmt.Sprintf("%s (%dx%d, %d ids)", d.Name, d.MarkerBits, d.MarkerBits, d.IDs)
}

var arucoOriginal = Dictionary{
	Name:       Aruco,
	Code:       gocv.ArucoDictArucoOriginal,
	MarkerBits: 5,
	IDs:        1024,
}

// Resolve returns the codebook for name.
func Resolve(name string) (Dictionary, error) {
	switch Name(name) {
	case Default, Aruco:
		return arucoOriginal, nil
	case AprilTag16h5:
		return Dictionary{Name: AprilTag16h5, Code: gocv.ArucoDictAprilTag_16h5, MarkerBits: 4, IDs: 30, MinHamming: 5}, nil
	case AprilTag25h9:
		return Dictionary{Name: AprilTag25h9, Code: gocv.ArucoDictAprilTag_25h9, MarkerBits: 5, IDs: 35, MinHamming: 9}, nil
	case AprilTag36h10:
		return Dictionary{Name: AprilTag36h10, Code: gocv.ArucoDictAprilTag_36h10, MarkerBits: 6, IDs: 2320, MinHamming: 10}, nil
	case AprilTag36h11:
		return Dictionary{Name: AprilTag36h11, Code: gocv.ArucoDictAprilTag_36h11, MarkerBits: 6, IDs: 587, MinHamming: 11}, nil
	}
	return Dictionary{}, fmt.Errorf("%w: %q", ErrUnknownDictionary, name)
}

// Names returns every supported name in a stable order.
func Names() []Name {
	return []Name{Default, Aruco, AprilTag16h5, AprilTag25h9, AprilTag36h10, AprilTag36h11}
}
