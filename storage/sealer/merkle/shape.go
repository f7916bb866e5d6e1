package merkle

import (
	"golang.org/x/xerrors"
)

// BaseArity is the arity of every base tree in the column and replica trees.
const BaseArity = 8

// Shape is one of the supported compound tree layouts. A sector is split
// into SubArity*TopArity base trees; their roots are combined by a sub level
// and then a top level.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeBase8
	ShapeSub8_2
	ShapeSub8_8
	ShapeTop8_8_2
)

var shapeNames = map[Shape]string{
	ShapeBase8:    "base8",
	ShapeSub8_2:   "sub8_2",
	ShapeSub8_8:   "sub8_8",
	ShapeTop8_8_2: "top8_8_2",
}

func (s Shape) String() string {
	if n, ok := shapeNames[s]; ok {
		return n
	}
	return "unknown"
}

func ParseShape(name string) (Shape, error) {
	for s, n := range shapeNames {
		if n == name {
			return s, nil
		}
	}
	return ShapeUnknown, xerrors.Errorf("unknown tree shape %q", name)
}

// SubArity is 0 when the shape has no sub level.
func (s Shape) SubArity() int {
	switch s {
	case ShapeSub8_2:
		return 2
	case ShapeSub8_8, ShapeTop8_8_2:
		return 8
	default:
		return 0
	}
}

// TopArity is 0 when the shape has no top level.
func (s Shape) TopArity() int {
	if s == ShapeTop8_8_2 {
		return 2
	}
	return 0
}

// BaseTrees is the number of base trees a sector is split into.
func (s Shape) BaseTrees() int {
	n := 1
	if a := s.SubArity(); a > 0 {
		n *= a
	}
	if a := s.TopArity(); a > 0 {
		n *= a
	}
	return n
}

func (s Shape) Valid() bool {
	_, ok := shapeNames[s]
	return ok
}

// BaseLeaves returns the leaf count of each base tree for a tree over nodes
// leaves.
func (s Shape) BaseLeaves(nodes uint64) (uint64, error) {
	if !s.Valid() {
		return 0, xerrors.Errorf("invalid shape %d", s)
	}
	bt := uint64(s.BaseTrees())
	if nodes%bt != 0 {
		return 0, xerrors.Errorf("%d nodes can't be split into %d base trees", nodes, bt)
	}
	per := nodes / bt
	if _, err := LevelSizes(per, BaseArity); err != nil {
		return 0, xerrors.Errorf("shape %s: %w", s, err)
	}
	return per, nil
}
