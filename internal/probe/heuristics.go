package probe

// knownGoodMTU maps provider tags to the MTU value that empirically works
// well on that kind of access network (WireGuard overhead already deducted).
var knownGoodMTU = map[string]int{
	"generic":   1420,
	"fiber":     1420,
	"cable":     1412,
	"pppoe":     1412,
	"dsl":       1392,
	"lte":       1360,
	"satellite": 1340,
}

// Deviation ratings for how far an empirically-best MTU sits from the
// provider's known-good value.
const (
	RatingGood = "Good"
	RatingFair = "Fair"
	RatingPoor = "Poor"
)

// DeviationRating classifies the distance between the best-probed MTU and
// the provider's known-good value: Good within 50, Fair within 100, Poor
// beyond that. Unknown providers fall back to the generic entry.
func DeviationRating(provider string, bestMTU int) string {
	known, ok := knownGoodMTU[provider]
	if !ok {
		known = knownGoodMTU["generic"]
	}
	diff := bestMTU - known
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 50:
		return RatingGood
	case diff <= 100:
		return RatingFair
	default:
		return RatingPoor
	}
}
