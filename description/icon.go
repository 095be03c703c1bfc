package description

// IconConstraint narrows icon selection by mime type and/or dimension;
// zero fields are unconstrained.
type IconConstraint struct {
	Mimetype     string
	Width        int
	Height       int
	Depth        int
	PreferBigger bool
}

// SelectIcon chooses the icon in icons that minimizes the distance to the
// constraint's target dimensions, breaking ties with PreferBigger. Only
// dimensions set in the constraint (non-zero) participate; Mimetype, if
// set, filters candidates first. Returns "", false if icons is empty or no
// candidate satisfies Mimetype.
func SelectIcon(icons []Icon, c IconConstraint) (string, bool) {
	var best *Icon
	bestDist := -1

	for i := range icons {
		ic := &icons[i]
		if c.Mimetype != "" && ic.Mimetype != c.Mimetype {
			continue
		}
		dist := dimensionDistance(ic, c)
		if best == nil || dist < bestDist || (dist == bestDist && preferred(ic, best, c.PreferBigger)) {
			best = ic
			bestDist = dist
		}
	}

	if best == nil {
		return "", false
	}
	return best.URL, true
}

func dimensionDistance(ic *Icon, c IconConstraint) int {
	dist := 0
	if c.Width != 0 {
		dist += abs(c.Width - ic.Width)
	}
	if c.Height != 0 {
		dist += abs(c.Height - ic.Height)
	}
	if c.Depth != 0 {
		dist += abs(c.Depth - ic.Depth)
	}
	return dist
}

func preferred(candidate, current *Icon, preferBigger bool) bool {
	if preferBigger {
		return candidate.Width > current.Width
	}
	return candidate.Width < current.Width
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
