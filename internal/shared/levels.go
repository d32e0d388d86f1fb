package shared

import "fmt"

// AccessLevel is the ordered classification scale shared by user clearance
// and resource classification. Comparison is plain integer ordering.
type AccessLevel int

const (
	LevelStandard AccessLevel = 1
	LevelElevated AccessLevel = 2
	LevelSecret   AccessLevel = 3
)

var levelNames = map[AccessLevel]string{
	LevelStandard: "STANDARD",
	LevelElevated: "ELEVATED",
	LevelSecret:   "SECRET",
}

func (l AccessLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Dominates reports whether l grants access to material classified at other.
func (l AccessLevel) Dominates(other AccessLevel) bool {
	return l >= other
}

// ParseAccessLevel maps a stored name back to its level. Unknown names map
// to the highest level so a bad row can never widen access.
func ParseAccessLevel(name string) AccessLevel {
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return LevelSecret
}
