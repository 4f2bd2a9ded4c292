package zarr

import "strings"

// Path is a logical location in a store, one element per level
type Path []string

// NewPath normalizes a posix style path so keys are consistent across stores:
// backward slashes become forward slashes, leading and trailing slashes are
// stripped and runs of slashes collapse into one.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		if el == "" {
			continue
		}
		p = append(p, el)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Name is the last element of the path
func (p Path) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

// Join returns a new path; p is never modified
func (p Path) Join(elems ...string) Path {
	j := make(Path, 0, len(p)+len(elems))
	j = append(j, p...)
	return append(j, elems...)
}

// Parents lists every ancestor of p, root first. The root is the empty path.
func (p Path) Parents() []Path {
	parents := make([]Path, 0, len(p))
	for i := 0; i < len(p); i++ {
		parents = append(parents, p[:i:i])
	}
	return parents
}

// Key is the store key of a metadata document or chunk below p
func (p Path) Key(name string) string {
	if len(p) == 0 {
		return name
	}
	return p.String() + "/" + name
}
