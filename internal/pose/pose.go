// Package pose recovers the pose of a square planar marker from its four
// image corners.
//
// The solver builds a homography from the marker plane to normalized image
// coordinates, decomposes it into an initial rotation and translation, and
// refines both the initial pose and its mirrored twin (the planar two-fold
// ambiguity) with Levenberg-Marquardt on the pixel reprojection error.
package pose

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/marker"
)

var (
	// ErrDegenerateGeometry is returned when the corners cannot describe a
	// square seen in perspective (collinear, coincident or zero-area).
	ErrDegenerateGeometry = errors.New("degenerate marker geometry")
	// ErrNoSolution is returned when no pose places the marker in front of
	// the camera.
	ErrNoSolution = errors.New("no pose in front of the camera")
	// ErrInvalidMarkerSize is returned for a non-positive marker size.
	ErrInvalidMarkerSize = errors.New("marker size must be positive")
)

const (
	// minCornerSine rejects corners whose adjacent edges are closer to
	// parallel than this (sine of the angle between them).
	minCornerSine = 1e-6
	// minEdgeLength rejects coincident corners, in pixels.
	minEdgeLength = 1e-6

	maxIterations  = 100
	initialDamping = 1e-3
	minStep        = 1e-12
	// duplicateAngle merges solutions closer than this, in radians.
	duplicateAngle = 1e-4
)

// Result is the outcome of solving one observation. Exactly one of Poses
// and Err is set.
type Result struct {
	Observation marker.Observation
	Poses       []marker.Pose
	Err         error
}

// OK reports whether the solve produced at least one pose.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Poses) > 0
}

// Detection converts a successful result into a marker.Detection.
func (r Result) Detection() marker.Detection {
	return marker.Detection{
		MarkerID: r.Observation.ID,
		Corners:  r.Observation.Corners,
		Poses:    r.Poses,
	}
}

// Estimator solves marker poses for one camera and marker size. It holds
// no per-frame state and is safe for concurrent use.
type Estimator struct {
	cam    *camera.Model
	size   float64
	object [marker.NumCorners]r3.Vec
}

// New creates an Estimator for squares of side markerSize.
func New(cam *camera.Model, markerSize float64) (*Estimator, error) {
	if cam == nil {
		return nil, errors.New("camera model is required")
	}
	if !(markerSize > 0) || math.IsInf(markerSize, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkerSize, markerSize)
	}

	h := markerSize / 2
	return &Estimator{
		cam:  cam,
		size: markerSize,
		object: [marker.NumCorners]r3.Vec{
			marker.TopLeft:     {X: -h, Y: h},
			marker.TopRight:    {X: h, Y: h},
			marker.BottomRight: {X: h, Y: -h},
			marker.BottomLeft:  {X: -h, Y: -h},
		},
	}, nil
}

// ObjectPoints returns the marker corners in the marker's own frame.
func (e *Estimator) ObjectPoints() [marker.NumCorners]r3.Vec {
	return e.object
}

// MarkerSize returns the configured side length.
func (e *Estimator) MarkerSize() float64 {
	return e.size
}

// Estimate solves the pose of a single observation.
func (e *Estimator) Estimate(obs marker.Observation) Result {
	res := Result{Observation: obs}

	if err := checkGeometry(obs.Corners); err != nil {
		res.Err = err
		return res
	}

	initial, err := e.initialPose(obs.Corners)
	if err != nil {
		res.Err = err
		return res
	}

	candidates := []rigid{initial, mirrored(initial)}
	var solutions []solution
	for _, c := range candidates {
		refined, cost := e.refine(c, obs.Corners)
		if !e.inFront(refined) {
			continue
		}
		solutions = appendUnique(solutions, solution{pose: refined, cost: cost})
	}
	if len(solutions) == 0 {
		res.Err = ErrNoSolution
		return res
	}

	sort.SliceStable(solutions, func(i, j int) bool {
		return solutions[i].cost < solutions[j].cost
	})

	res.Poses = make([]marker.Pose, len(solutions))
	for i, s := range solutions {
		res.Poses[i] = s.pose.toPose(math.Sqrt(s.cost / marker.NumCorners))
	}
	return res
}

// EstimateAll solves each observation independently.
func (e *Estimator) EstimateAll(observations []marker.Observation) []Result {
	results := make([]Result, len(observations))
	for i, obs := range observations {
		results[i] = e.Estimate(obs)
	}
	return results
}

// Reproject projects the marker corners through p.
func (e *Estimator) Reproject(p marker.Pose) marker.Quad {
	r := fromPose(p)
	var q marker.Quad
	for i, o := range e.object {
		q[i] = e.cam.Project(r.apply(o))
	}
	return q
}

// Transform maps a point from the marker frame to the camera frame.
func Transform(p marker.Pose, v r3.Vec) r3.Vec {
	return fromPose(p).apply(v)
}

// rigid is a rotation and translation from marker to camera frame.
type rigid struct {
	R Mat3
	T r3.Vec
}

func (r rigid) apply(v r3.Vec) r3.Vec {
	return r3.Add(r.R.Apply(v), r.T)
}

func (r rigid) toPose(rmsErr float64) marker.Pose {
	return marker.Pose{
		Rotation:    RotationVector(r.R),
		Translation: [3]float64{r.T.X, r.T.Y, r.T.Z},
		Error:       rmsErr,
	}
}

func fromPose(p marker.Pose) rigid {
	return rigid{
		R: RotationMatrix(p.Rotation),
		T: r3.Vec{X: p.Translation[0], Y: p.Translation[1], Z: p.Translation[2]},
	}
}

type solution struct {
	pose rigid
	cost float64
}

func appendUnique(list []solution, s solution) []solution {
	for i, have := range list {
		if AngleBetween(have.pose.R, s.pose.R) < duplicateAngle {
			if s.cost < have.cost {
				list[i] = s
			}
			return list
		}
	}
	return append(list, s)
}

// checkGeometry rejects quads that cannot be the projection of a square.
func checkGeometry(q marker.Quad) error {
	for _, p := range q {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: non-finite corner", ErrDegenerateGeometry)
		}
	}

	for i := 0; i < marker.NumCorners; i++ {
		prev := q[(i+marker.NumCorners-1)%marker.NumCorners]
		cur := q[i]
		next := q[(i+1)%marker.NumCorners]

		ax, ay := prev.X-cur.X, prev.Y-cur.Y
		bx, by := next.X-cur.X, next.Y-cur.Y
		la := math.Hypot(ax, ay)
		lb := math.Hypot(bx, by)
		if la < minEdgeLength || lb < minEdgeLength {
			return fmt.Errorf("%w: coincident corners", ErrDegenerateGeometry)
		}
		if math.Abs(ax*by-ay*bx)/(la*lb) < minCornerSine {
			return fmt.Errorf("%w: collinear corners", ErrDegenerateGeometry)
		}
	}
	return nil
}

// initialPose decomposes the plane-to-image homography.
func (e *Estimator) initialPose(q marker.Quad) (rigid, error) {
	var img [marker.NumCorners][2]float64
	for i, p := range q {
		img[i][0], img[i][1] = e.cam.Normalize(p)
	}

	h, err := homography(e.object, img, e.size/2)
	if err != nil {
		return rigid{}, err
	}

	h1 := r3.Vec{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vec{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vec{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}

	scale := (r3.Norm(h1) + r3.Norm(h2)) / 2
	if scale < 1e-12 {
		return rigid{}, fmt.Errorf("%w: singular homography", ErrDegenerateGeometry)
	}
	if h3.Z < 0 {
		scale = -scale
	}

	r1 := r3.Scale(1/scale, h1)
	r2 := r3.Scale(1/scale, h2)
	t := r3.Scale(1/scale, h3)
	r3v := r3.Cross(r1, r2)

	R, ok := nearestRotation(fromColumns(r1, r2, r3v))
	if !ok {
		return rigid{}, fmt.Errorf("%w: rotation did not converge", ErrDegenerateGeometry)
	}
	return rigid{R: R, T: t}, nil
}

// homography fits H such that img ~ H * (X, Y, 1) using the normalized DLT.
// Object points are scaled by half so they span [-1, 1].
func homography(object [marker.NumCorners]r3.Vec, img [marker.NumCorners][2]float64, half float64) (*mat.Dense, error) {
	// Hartley normalization of image points.
	var mx, my float64
	for _, p := range img {
		mx += p[0]
		my += p[1]
	}
	mx /= marker.NumCorners
	my /= marker.NumCorners
	var spread float64
	for _, p := range img {
		spread += math.Hypot(p[0]-mx, p[1]-my)
	}
	spread /= marker.NumCorners
	if spread < 1e-15 {
		return nil, fmt.Errorf("%w: corners project to one point", ErrDegenerateGeometry)
	}
	s := math.Sqrt2 / spread

	a := mat.NewDense(2*marker.NumCorners, 9, nil)
	for i := 0; i < marker.NumCorners; i++ {
		X := object[i].X / half
		Y := object[i].Y / half
		x := (img[i][0] - mx) * s
		y := (img[i][1] - my) * s
		a.SetRow(2*i, []float64{X, Y, 1, 0, 0, 0, -x * X, -x * Y, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, X, Y, 1, -y * X, -y * Y, -y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: homography SVD failed", ErrDegenerateGeometry)
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	// H = T_img^-1 * Hn * T_obj
	tImgInv := mat.NewDense(3, 3, []float64{
		1 / s, 0, mx,
		0, 1 / s, my,
		0, 0, 1,
	})
	tObj := mat.NewDense(3, 3, []float64{
		1 / half, 0, 0,
		0, 1 / half, 0,
		0, 0, 1,
	})
	var tmp, h mat.Dense
	tmp.Mul(tImgInv, hn)
	h.Mul(&tmp, tObj)
	return &h, nil
}

// mirrored returns the twin pose produced by reflecting the marker normal
// about the line of sight to the marker center.
func mirrored(p rigid) rigid {
	n := p.R.Col(2)
	los := r3.Unit(p.T)
	reflected := r3.Sub(r3.Scale(2*r3.Dot(n, los), los), n)

	axis := r3.Cross(n, reflected)
	sin := r3.Norm(axis)
	cos := r3.Dot(n, reflected)
	if sin < 1e-12 {
		return p
	}
	q := axisAngle(r3.Scale(1/sin, axis), math.Atan2(sin, cos))
	return rigid{R: q.Mul(p.R), T: p.T}
}

func (e *Estimator) inFront(p rigid) bool {
	for _, o := range e.object {
		if p.apply(o).Z <= 0 {
			return false
		}
	}
	return true
}

// residuals returns the pixel reprojection residuals for params
// (rvec, tvec) and their sum of squares.
func (e *Estimator) residuals(params []float64, q marker.Quad, out []float64) float64 {
	r := rigid{
		R: RotationMatrix([3]float64{params[0], params[1], params[2]}),
		T: r3.Vec{X: params[3], Y: params[4], Z: params[5]},
	}
	var cost float64
	for i, o := range e.object {
		pc := r.apply(o)
		if pc.Z <= 0 {
			// Behind the camera: keep the residual finite and large.
			out[2*i] = 1e6
			out[2*i+1] = 1e6
			cost += 2e12
			continue
		}
		px := e.cam.Project(pc)
		out[2*i] = px.X - q[i].X
		out[2*i+1] = px.Y - q[i].Y
		cost += out[2*i]*out[2*i] + out[2*i+1]*out[2*i+1]
	}
	return cost
}

// refine minimizes the reprojection error starting from p.
func (e *Estimator) refine(p rigid, q marker.Quad) (rigid, float64) {
	const n = 6
	const m = 2 * marker.NumCorners

	rv := RotationVector(p.R)
	params := []float64{rv[0], rv[1], rv[2], p.T.X, p.T.Y, p.T.Z}

	res := make([]float64, m)
	plus := make([]float64, m)
	minus := make([]float64, m)
	trial := make([]float64, n)
	cost := e.residuals(params, q, res)

	jac := mat.NewDense(m, n, nil)
	damping := initialDamping

	for iter := 0; iter < maxIterations; iter++ {
		// Central-difference Jacobian.
		for j := 0; j < n; j++ {
			step := 1e-6 * math.Max(1, math.Abs(params[j]))
			copy(trial, params)
			trial[j] = params[j] + step
			e.residuals(trial, q, plus)
			trial[j] = params[j] - step
			e.residuals(trial, q, minus)
			for i := 0; i < m; i++ {
				jac.Set(i, j, (plus[i]-minus[i])/(2*step))
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, res))
		grad.ScaleVec(-1, &grad)

		improved := false
		for attempt := 0; attempt < 10; attempt++ {
			a := mat.DenseCopyOf(&jtj)
			for i := 0; i < n; i++ {
				a.Set(i, i, jtj.At(i, i)*(1+damping)+1e-12)
			}

			var delta mat.VecDense
			if err := delta.SolveVec(a, &grad); err != nil {
				damping *= 10
				continue
			}

			for i := 0; i < n; i++ {
				trial[i] = params[i] + delta.AtVec(i)
			}
			trialCost := e.residuals(trial, q, plus)
			if trialCost < cost {
				copy(params, trial)
				copy(res, plus)
				converged := cost-trialCost < 1e-14*(1+cost) || mat.Norm(&delta, 2) < minStep
				cost = trialCost
				damping = math.Max(damping/10, 1e-12)
				improved = true
				if converged {
					return paramsToRigid(params), cost
				}
				break
			}
			damping *= 10
		}
		if !improved {
			break
		}
	}
	return paramsToRigid(params), cost
}

func paramsToRigid(params []float64) rigid {
	return rigid{
		R: RotationMatrix([3]float64{params[0], params[1], params[2]}),
		T: r3.Vec{X: params[3], Y: params[4], Z: params[5]},
	}
}
