package frame

import "math"

// Transform is a 4x4 rigid camera transform stored row-major. It is the one
// canonical pose representation; position and orientation are always
// derived from it and never stored separately.
type Transform [16]float64

// Position is a translation in meters.
type Position struct {
	X, Y, Z float64
}

// Quaternion is a unit rotation quaternion (vector part X, Y, Z; scalar W).
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityTransform returns the identity pose.
func IdentityTransform() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func (t Transform) at(r, c int) float64 { return t[r*4+c] }

// Rows returns the transform as four rows.
func (t Transform) Rows() [4][4]float64 {
	var rows [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			rows[r][c] = t.at(r, c)
		}
	}
	return rows
}

// TransformFromRows builds a Transform from four rows.
func TransformFromRows(rows [4][4]float64) Transform {
	var t Transform
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			t[r*4+c] = rows[r][c]
		}
	}
	return t
}

// Position returns the translation column.
func (t Transform) Position() Position {
	return Position{X: t.at(0, 3), Y: t.at(1, 3), Z: t.at(2, 3)}
}

// Quaternion returns the rotation of the upper-left 3x3 block.
func (t Transform) Quaternion() Quaternion {
	m00, m01, m02 := t.at(0, 0), t.at(0, 1), t.at(0, 2)
	m10, m11, m12 := t.at(1, 0), t.at(1, 1), t.at(1, 2)
	m20, m21, m22 := t.at(2, 0), t.at(2, 1), t.at(2, 2)

	var q Quaternion
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q.W = 0.25 * s
		q.X = (m21 - m12) / s
		q.Y = (m02 - m20) / s
		q.Z = (m10 - m01) / s
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q.W = (m21 - m12) / s
		q.X = 0.25 * s
		q.Y = (m01 + m10) / s
		q.Z = (m02 + m20) / s
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q.W = (m02 - m20) / s
		q.X = (m01 + m10) / s
		q.Y = 0.25 * s
		q.Z = (m12 + m21) / s
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q.W = (m10 - m01) / s
		q.X = (m02 + m20) / s
		q.Y = (m12 + m21) / s
		q.Z = 0.25 * s
	}
	return q
}

// TransformFromPose composes a transform from a position and a rotation.
// The quaternion is normalised first; a zero quaternion yields the
// identity rotation.
func TransformFromPose(p Position, q Quaternion) Transform {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		q = Quaternion{W: 1}
	} else {
		q = Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
	}
	x, y, z, w := q.X, q.Y, q.Z, q.W
	return Transform{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), p.X,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), p.Y,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), p.Z,
		0, 0, 0, 1,
	}
}
