package pose

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/marker"
)

const markerSize = 50.0

// facingCamera rotates the marker so its +Z axis points back at the camera.
var facingCamera = axisAngle(r3.Vec{X: 1}, math.Pi)

func testCamera(t *testing.T) *camera.Model {
	t.Helper()
	cam, err := camera.New(800, 640, 480)
	require.NoError(t, err)
	return cam
}

func project(e *Estimator, p rigid) marker.Quad {
	var q marker.Quad
	for i, o := range e.object {
		q[i] = e.cam.Project(p.apply(o))
	}
	return q
}

func TestNew_Validation(t *testing.T) {
	cam := testCamera(t)

	_, err := New(nil, markerSize)
	assert.Error(t, err)

	for _, size := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := New(cam, size)
		assert.ErrorIs(t, err, ErrInvalidMarkerSize, "size %v", size)
	}

	e, err := New(cam, markerSize)
	require.NoError(t, err)
	assert.Equal(t, markerSize, e.MarkerSize())

	obj := e.ObjectPoints()
	assert.Equal(t, r3.Vec{X: -25, Y: 25}, obj[marker.TopLeft])
	assert.Equal(t, r3.Vec{X: 25, Y: 25}, obj[marker.TopRight])
	assert.Equal(t, r3.Vec{X: 25, Y: -25}, obj[marker.BottomRight])
	assert.Equal(t, r3.Vec{X: -25, Y: -25}, obj[marker.BottomLeft])
}

func TestEstimate_RoundTrip(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	tests := []struct {
		name  string
		axis  r3.Vec
		angle float64
		t     r3.Vec
	}{
		{name: "frontal centered", axis: r3.Vec{Z: 1}, angle: 0, t: r3.Vec{Z: 400}},
		{name: "frontal offset", axis: r3.Vec{Z: 1}, angle: 0, t: r3.Vec{X: 60, Y: -40, Z: 600}},
		{name: "tilted about x", axis: r3.Vec{X: 1}, angle: 0.5, t: r3.Vec{X: 10, Y: 5, Z: 450}},
		{name: "tilted about y", axis: r3.Vec{Y: 1}, angle: -0.7, t: r3.Vec{X: -30, Y: 20, Z: 500}},
		{name: "rolled", axis: r3.Vec{Z: 1}, angle: 1.2, t: r3.Vec{X: 0, Y: 0, Z: 350}},
		{name: "compound", axis: r3.Unit(r3.Vec{X: 1, Y: 1, Z: 0.3}), angle: 0.6, t: r3.Vec{X: 40, Y: 30, Z: 700}},
		{name: "far away", axis: r3.Vec{Y: 1}, angle: 0.3, t: r3.Vec{X: 0, Y: 0, Z: 2500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			truth := rigid{R: axisAngle(tt.axis, tt.angle).Mul(facingCamera), T: tt.t}
			obs := marker.Observation{ID: 7, Corners: project(e, truth)}

			res := e.Estimate(obs)
			require.NoError(t, res.Err)
			require.True(t, res.OK())
			require.NotEmpty(t, res.Poses)

			best := fromPose(res.Poses[0])
			dt := r3.Norm(r3.Sub(best.T, truth.T))
			assert.Less(t, dt, 0.01*markerSize, "translation error %f", dt)

			angle := AngleBetween(best.R, truth.R) * 180 / math.Pi
			assert.Less(t, angle, 1.0, "rotation error %f degrees", angle)

			assert.Less(t, res.Poses[0].Error, 1e-3, "reprojection error")
			for i := 1; i < len(res.Poses); i++ {
				assert.GreaterOrEqual(t, res.Poses[i].Error, res.Poses[0].Error)
			}

			d := res.Detection()
			assert.Equal(t, 7, d.MarkerID)
			assert.Equal(t, obs.Corners, d.Corners)
		})
	}
}

func TestEstimate_NoisyCorners(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	truth := rigid{R: axisAngle(r3.Vec{X: 1}, 0.6).Mul(facingCamera), T: r3.Vec{X: 15, Y: -10, Z: 400}}
	q := project(e, truth)
	noise := [][2]float64{{0.1, -0.1}, {-0.1, 0.05}, {0.05, 0.1}, {-0.05, -0.1}}
	for i := range q {
		q[i].X += noise[i][0]
		q[i].Y += noise[i][1]
	}

	res := e.Estimate(marker.Observation{ID: 1, Corners: q})
	require.True(t, res.OK())

	best := fromPose(res.Poses[0])
	assert.Less(t, r3.Norm(r3.Sub(best.T, truth.T)), 0.05*markerSize)
	assert.Less(t, res.Poses[0].Error, 0.2)
}

func TestEstimate_WithDistortion(t *testing.T) {
	cam := testCamera(t).WithDistortion([4]float64{-0.1, 0.02, 0, 0})
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	truth := rigid{R: axisAngle(r3.Vec{Y: 1}, 0.4).Mul(facingCamera), T: r3.Vec{X: 80, Y: 50, Z: 500}}
	res := e.Estimate(marker.Observation{Corners: project(e, truth)})
	require.True(t, res.OK())

	best := fromPose(res.Poses[0])
	assert.Less(t, r3.Norm(r3.Sub(best.T, truth.T)), 0.01*markerSize)
	assert.Less(t, AngleBetween(best.R, truth.R)*180/math.Pi, 1.0)
}

func TestEstimate_AmbiguousTwin(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	// A strongly tilted, distant marker has two distinct local minima.
	truth := rigid{R: axisAngle(r3.Vec{Y: 1}, 0.5).Mul(facingCamera), T: r3.Vec{X: 0, Y: 0, Z: 1500}}
	res := e.Estimate(marker.Observation{Corners: project(e, truth)})
	require.True(t, res.OK())
	require.LessOrEqual(t, len(res.Poses), 2)

	if len(res.Poses) == 2 {
		a := fromPose(res.Poses[0])
		b := fromPose(res.Poses[1])
		assert.Greater(t, AngleBetween(a.R, b.R), duplicateAngle)
	}
}

func TestEstimate_Degenerate(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	tests := []struct {
		name string
		quad marker.Quad
	}{
		{name: "all collinear", quad: marker.Quad{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 300, Y: 100}, {X: 400, Y: 100}}},
		{name: "diagonal line", quad: marker.Quad{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}, {X: 40, Y: 40}}},
		{name: "three collinear", quad: marker.Quad{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 300, Y: 100}, {X: 200, Y: 200}}},
		{name: "coincident corners", quad: marker.Quad{{X: 100, Y: 100}, {X: 100, Y: 100}, {X: 200, Y: 200}, {X: 100, Y: 200}}},
		{name: "single point", quad: marker.Quad{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}}},
		{name: "NaN corner", quad: marker.Quad{{X: math.NaN(), Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Estimate(marker.Observation{ID: 3, Corners: tt.quad})
			assert.False(t, res.OK())
			assert.True(t, errors.Is(res.Err, ErrDegenerateGeometry), "err = %v", res.Err)
			assert.Empty(t, res.Poses)
		})
	}
}

func TestEstimateAll_Independent(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	good := rigid{R: facingCamera, T: r3.Vec{X: -50, Z: 500}}
	obs := []marker.Observation{
		{ID: 1, Corners: project(e, good)},
		{ID: 2, Corners: marker.Quad{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}},
	}

	results := e.EstimateAll(obs)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, ErrDegenerateGeometry)

	// Solving the good marker alone gives the same answer.
	alone := e.Estimate(obs[0])
	assert.Equal(t, alone.Poses, results[0].Poses)
}

func TestReproject(t *testing.T) {
	cam := testCamera(t)
	e, err := New(cam, markerSize)
	require.NoError(t, err)

	truth := rigid{R: axisAngle(r3.Vec{X: 1}, 0.3).Mul(facingCamera), T: r3.Vec{X: 5, Y: 5, Z: 300}}
	want := project(e, truth)
	got := e.Reproject(truth.toPose(0))
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, 1e-6)
		assert.InDelta(t, want[i].Y, got[i].Y, 1e-6)
	}

	// The marker's top-left corner lands up and left of its bottom-right.
	assert.Less(t, got[marker.TopLeft].X, got[marker.BottomRight].X)
	assert.Less(t, got[marker.TopLeft].Y, got[marker.BottomRight].Y)
}

func TestTransform(t *testing.T) {
	p := marker.Pose{Translation: [3]float64{1, 2, 3}}
	got := Transform(p, r3.Vec{X: 1})
	assert.InDelta(t, 2.0, got.X, 1e-12)
	assert.InDelta(t, 2.0, got.Y, 1e-12)
	assert.InDelta(t, 3.0, got.Z, 1e-12)
}
