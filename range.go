package tablekv

// Range selects typed keys between an optional lower and upper bound. The
// constructors use the same mnemonics as the raw ranges: O open, I
// inclusive, E exclusive; lower bound first, upper bound second.
type Range[K any] struct {
	lower, upper       K
	hasLower, hasUpper bool
	lowerInc, upperInc bool
	reverse            bool
}

func OO[K any]() Range[K] { return Range[K]{} }
func IO[K any](lower K) Range[K] {
	return Range[K]{lower: lower, hasLower: true, lowerInc: true}
}
func EO[K any](lower K) Range[K] {
	return Range[K]{lower: lower, hasLower: true}
}
func OI[K any](upper K) Range[K] {
	return Range[K]{upper: upper, hasUpper: true, upperInc: true}
}
func OE[K any](upper K) Range[K] {
	return Range[K]{upper: upper, hasUpper: true}
}
func II[K any](lower, upper K) Range[K] {
	return Range[K]{lower: lower, upper: upper, hasLower: true, hasUpper: true, lowerInc: true, upperInc: true}
}
func IE[K any](lower, upper K) Range[K] {
	return Range[K]{lower: lower, upper: upper, hasLower: true, hasUpper: true, lowerInc: true}
}
func EI[K any](lower, upper K) Range[K] {
	return Range[K]{lower: lower, upper: upper, hasLower: true, hasUpper: true, upperInc: true}
}
func EE[K any](lower, upper K) Range[K] {
	return Range[K]{lower: lower, upper: upper, hasLower: true, hasUpper: true}
}

// Reversed makes the scan yield entries in descending key order. Bounds keep
// their meaning.
func (r Range[K]) Reversed() Range[K] {
	r.reverse = true
	return r
}

func (r Range[K]) raw(kc KeyCodec[K]) RawRange {
	var raw RawRange
	if r.hasLower {
		raw.Lower = kc.AppendKey(nil, r.lower)
		raw.LowerInc = r.lowerInc
	}
	if r.hasUpper {
		raw.Upper = kc.AppendKey(nil, r.upper)
		raw.UpperInc = r.upperInc
	}
	raw.Reverse = r.reverse
	return raw
}
