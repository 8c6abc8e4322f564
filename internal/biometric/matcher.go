// Package biometric compares face descriptors produced by the external face
// service. It never interprets a descriptor beyond distance computation.
package biometric

import (
	"context"
	"fmt"
	"math"

	"smartattend/internal/apperr"
)

// DescriptorLen is the dimensionality of descriptors produced by the face service.
const DescriptorLen = 128

// DefaultThreshold is the distance below which two 128-d descriptors are the same face.
const DefaultThreshold = 0.6

// Descriptor is a fixed-length face embedding.
type Descriptor []float64

// Validate checks dimensionality and rejects NaN/Inf components.
func (d Descriptor) Validate() error {
	if len(d) != DescriptorLen {
		return apperr.New(apperr.KindValidation, "biometric.validate",
			fmt.Sprintf("descriptor must have %d components, got %d", DescriptorLen, len(d)))
	}
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.New(apperr.KindValidation, "biometric.validate", "descriptor contains non-finite values")
		}
	}
	return nil
}

// Distance returns the Euclidean distance between two descriptors of equal length.
func Distance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, apperr.New(apperr.KindValidation, "biometric.distance",
			fmt.Sprintf("descriptor length mismatch: %d vs %d", len(a), len(b)))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Result is the outcome of a comparison against the closest live descriptor.
type Result struct {
	Distance float64
	Index    int
	Matched  bool
}

// Matcher decides whether live descriptors belong to an enrolled face.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher; a non-positive threshold uses DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match compares reference to every live descriptor and keeps the closest one.
// Zero live descriptors is reported as no face present, distinct from a
// comparison that found no match. The returned Result is populated whenever
// at least one comparison ran.
func (m *Matcher) Match(reference Descriptor, live []Descriptor) (Result, error) {
	const op = "biometric.match"
	if len(live) == 0 {
		return Result{Index: -1}, apperr.New(apperr.KindBiometricNoFace, op, "no face detected in the captured frame")
	}
	best := Result{Index: -1, Distance: math.Inf(1)}
	for i, d := range live {
		dist, err := Distance(reference, d)
		if err != nil {
			return Result{Index: -1}, err
		}
		if dist < best.Distance {
			best.Distance = dist
			best.Index = i
		}
	}
	best.Matched = best.Distance < m.threshold
	if !best.Matched {
		return best, apperr.New(apperr.KindBiometricNoMatch, op, "face does not match the enrolled profile")
	}
	return best, nil
}

// Box is a detection bounding box in image pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area; degenerate boxes have zero area.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Face is one detection returned by the face service.
type Face struct {
	Descriptor Descriptor
	Box        Box
	Score      float64
}

// Detector turns an image into the faces it contains.
type Detector interface {
	Detect(ctx context.Context, imageURL string) ([]Face, error)
}

// SelectForEnrollment picks the reference face from an enrollment image.
// More than one face is accepted; the most prominent detection wins
// (largest box, then highest score, then earliest).
func SelectForEnrollment(faces []Face) (Face, error) {
	const op = "biometric.enroll"
	if len(faces) == 0 {
		return Face{}, apperr.New(apperr.KindBiometricEnrollment, op, "no face detected in the enrollment image")
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		a, b := faces[i].Box.Area(), faces[best].Box.Area()
		if a > b || (a == b && faces[i].Score > faces[best].Score) {
			best = i
		}
	}
	face := faces[best]
	if err := face.Descriptor.Validate(); err != nil {
		return Face{}, &apperr.Error{Kind: apperr.KindBiometricEnrollment, Op: op, Msg: "enrollment face is unusable", Err: err}
	}
	return face, nil
}
