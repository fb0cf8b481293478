package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [3][3]float64

// Identity3 is the identity rotation.
var Identity3 = Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// Apply returns m * v.
func (m Mat3) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns m * n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * n[k][j]
			}
		}
	}
	return out
}

// T returns the transpose of m.
func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Col returns column j.
func (m Mat3) Col(j int) r3.Vec {
	return r3.Vec{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

// Flat returns the matrix in row-major order.
func (m Mat3) Flat() []float64 {
	return []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}

func fromColumns(a, b, c r3.Vec) Mat3 {
	return Mat3{
		{a.X, b.X, c.X},
		{a.Y, b.Y, c.Y},
		{a.Z, b.Z, c.Z},
	}
}

// RotationMatrix converts an axis-angle rotation vector to a matrix
// (Rodrigues' formula).
func RotationMatrix(rvec [3]float64) Mat3 {
	theta := math.Sqrt(rvec[0]*rvec[0] + rvec[1]*rvec[1] + rvec[2]*rvec[2])
	if theta < 1e-12 {
		return Mat3{
			{1, -rvec[2], rvec[1]},
			{rvec[2], 1, -rvec[0]},
			{-rvec[1], rvec[0], 1},
		}
	}

	kx, ky, kz := rvec[0]/theta, rvec[1]/theta, rvec[2]/theta
	c := math.Cos(theta)
	s := math.Sin(theta)
	v := 1 - c

	return Mat3{
		{c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v},
	}
}

// RotationVector converts a rotation matrix to an axis-angle vector whose
// norm is the rotation angle in [0, pi].
func RotationVector(m Mat3) [3]float64 {
	cos := (m[0][0] + m[1][1] + m[2][2] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)

	skew := [3]float64{
		m[2][1] - m[1][2],
		m[0][2] - m[2][0],
		m[1][0] - m[0][1],
	}

	if theta < 1e-8 {
		return [3]float64{skew[0] / 2, skew[1] / 2, skew[2] / 2}
	}

	sin := math.Sin(theta)
	if sin < 1e-6 {
		// theta is close to pi: recover the axis from the symmetric part.
		best := 0
		for i := 1; i < 3; i++ {
			if m[i][i] > m[best][best] {
				best = i
			}
		}
		// (R + I) / 2 = k k^T, so column best is k scaled by k[best].
		col := [3]float64{(m[0][best] + m[best][0]) / 4, (m[1][best] + m[best][1]) / 4, (m[2][best] + m[best][2]) / 4}
		col[best] = (m[best][best] + 1) / 2
		axis := r3.Unit(r3.Vec{X: col[0], Y: col[1], Z: col[2]})
		// Keep the sign consistent with the antisymmetric part when present.
		if axis.X*skew[0]+axis.Y*skew[1]+axis.Z*skew[2] < 0 {
			axis = r3.Scale(-1, axis)
		}
		return [3]float64{axis.X * theta, axis.Y * theta, axis.Z * theta}
	}

	f := theta / (2 * sin)
	return [3]float64{skew[0] * f, skew[1] * f, skew[2] * f}
}

// AngleBetween returns the angle in radians of the relative rotation a^T b.
func AngleBetween(a, b Mat3) float64 {
	r := RotationVector(a.T().Mul(b))
	return math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
}

// axisAngle returns the rotation of angle radians about a unit axis.
func axisAngle(axis r3.Vec, angle float64) Mat3 {
	return RotationMatrix([3]float64{axis.X * angle, axis.Y * angle, axis.Z * angle})
}

// nearestRotation projects m onto SO(3) using the SVD.
func nearestRotation(m Mat3) (Mat3, bool) {
	a := mat.NewDense(3, 3, m.Flat())
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Mat3{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, true
}
