package sim

import (
	"fmt"
	"strings"
)

// Point is a coordinate in an N-dimensional stencil machine.
type Point []int

// L1 returns the Manhattan distance between p and q.
func (p Point) L1(q Point) int {
	d := 0
	for i := range p {
		d += absInt(p[i] - q[i])
	}
	return d
}

// LInf returns the Chebyshev distance between p and q.
func (p Point) LInf(q Point) int {
	d := 0
	for i := range p {
		if v := absInt(p[i] - q[i]); v > d {
			d = v
		}
	}
	return d
}

// Equal reports whether p and q name the same coordinate.
func (p Point) Equal(q Point) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of p.
func (p Point) Clone() Point {
	return append(Point(nil), p...)
}

func (p Point) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
