// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package star

import (
	"errors"
	"fmt"
	"math"
)


// A 2-dimensional point with floating point coordinates.
type Point2D struct {
	X float32
	Y float32
}

// A 3-dimensional point with floating point coordinates.
type Point3D struct {
	X float32
	Y float32
	Z float32
}

// A 3-dimensional point with floating point coordinates and payload
type Point3DPayload struct {
	Point3D
	Payload interface{}
}

// A 2D coordinate transformation.
type Transform2D struct {
	A float32
	B float32
	C float32
	D float32
	E float32
	F float32
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

func (p Point3D) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

func (t Transform2D) String() string {
	return fmt.Sprintf("x'=%.5gx %+.5gy %+.2g, y'=%.5gx %+.5gy %+.2g",
		t.A, t.B, t.C, t.D, t.E, t.F)
}

// Returns the euclidian distance between the two given points
func Dist2D(a,b Point2D) float32 {
	dSquared:=Dist2DSquared(a,b)
	return float32(math.Sqrt(float64(dSquared)))
}

// Returns the squared euclididian distance between the two given points
func Dist2DSquared(a,b Point2D) float32 {
	dx, dy:=a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

func Add2D(a,b Point2D) Point2D {
	return Point2D{a.X+b.X, a.Y+b.Y}
}

func Sub2D(a,b Point2D) Point2D {
	return Point2D{a.X-b.X, a.Y-b.Y}
}

// Returns the euclidian distance between the two given points
func Dist3D(a,b Point3D) float32 {
	dSquared:=Dist3DSquared(a,b)
	return float32(math.Sqrt(float64(dSquared)))
}

// Returns the squared euclididian distance between the two given points
func Dist3DSquared(a,b Point3D) float32 {
	dx, dy, dz:=a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}


func IdentityTransform2D() Transform2D {
	return Transform2D{1,0,0, 0,1,0}
}

// Calculate 2D transformation matrix from three given points in first coordinate
// system, and corresponding reference points in second coordinate system.
// p1, p2, p3 are in the first system. p1p, p2p, p3p are in the second.
func NewTransform2D(p1, p2, p3, p1p, p2p, p3p Point2D) (Transform2D, error) {
	denom:=(p2.Y-p1.Y)*(p3.X-p1.X) - (p2.X-p1.X)*(p3.Y-p1.Y)
	if denom==0 || p2.Y==p1.Y {
		return IdentityTransform2D(), errors.New("degenerate point configuration")
	}

	a:=( (p3p.X-p1p.X)*(p2.Y-p1.Y) - (p2p.X-p1p.X)*(p3.Y-p1.Y) ) / denom
	b:=( (p2p.X-p1p.X) - a*(p2.X-p1.X) ) / (p2.Y-p1.Y)
	c:=p1p.X - a*p1.X - b*p1.Y

	d:=( (p3p.Y-p1p.Y)*(p2.Y-p1.Y) - (p2p.Y-p1p.Y)*(p3.Y-p1.Y) ) / denom
	e:=( (p2p.Y-p1p.Y) - d*(p2.X-p1.X) ) / (p2.Y-p1.Y)
	f:=p1p.Y - d*p1.X - e*p1.Y

	return Transform2D{a,b,c, d,e,f}, nil
}

// Inverts the affine transformation
func (t Transform2D) Invert() (Transform2D, error) {
	det:=t.A*t.E - t.B*t.D
	if det==0 {
		return IdentityTransform2D(), errors.New("transformation is singular")
	}
	a, b:= t.E/det, -t.B/det
	d, e:=-t.D/det,  t.A/det
	c:=-(a*t.C + b*t.F)
	f:=-(d*t.C + e*t.F)
	return Transform2D{a,b,c, d,e,f}, nil
}

// Applies the transformation to the given point
func (t Transform2D) Apply(p Point2D) Point2D {
	return Point2D{
		t.A*p.X + t.B*p.Y + t.C,
		t.D*p.X + t.E*p.Y + t.F,
	}
}
