package runner

// PositionSize returns the capital to put into an entry at price. The
// fraction of available capital scales linearly from maxFraction at the
// bottom of the band to minFraction at the top, so cheaper entries get more.
// A zero-width band always uses maxFraction.
func PositionSize(available, price float64, band Band, minFraction, maxFraction float64) float64 {
	width := band.MaxYes - band.MinYes
	if width <= 0 {
		return available * maxFraction
	}
	t := (band.MaxYes - price) / width
	t = max(0, min(1, t))
	return available * (minFraction + t*(maxFraction-minFraction))
}
