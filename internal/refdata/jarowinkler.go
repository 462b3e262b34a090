package refdata

// JaroWinkler computes the Jaro-Winkler similarity of two strings, per the
// exact formula in spec §4.2: a standard Jaro score with a matching window
// of max(floor(max(|a|,|b|)/2)-1, 0), plus a Winkler prefix bonus of
// 0.1 * min(sharedPrefixLen, 4) * (1 - jaro). Both inputs are expected to
// already be normalized by the caller (see NormalizeOrgName); this function
// does no normalization of its own.
func JaroWinkler(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if a == b {
		return 1
	}

	j := jaro(a, b)
	if j == 0 {
		return 0
	}
	prefix := commonPrefixLen(a, b)
	if prefix > 4 {
		prefix = 4
	}
	return j + float64(prefix)*0.1*(1-j)
}

func jaro(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	window := maxLen/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)
	matches := 0

	for i := 0; i < la; i++ {
		start := i - window
		if start < 0 {
			start = 0
		}
		end := i + window + 1
		if end > lb {
			end = lb
		}
		for k := start; k < end; k++ {
			if bMatched[k] || ra[i] != rb[k] {
				continue
			}
			aMatched[i] = true
			bMatched[k] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3
}

func commonPrefixLen(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}
