package geo

// Quality grades a fix by its reported accuracy radius.
type Quality string

const (
	HighFidelity Quality = "high_fidelity"
	Moderate     Quality = "moderate"
	WideMargin   Quality = "wide_margin"
)

// ClassifyAccuracy grades accuracyMeters: below 20 is high fidelity,
// 20 through 50 is moderate, anything wider needs review.
func ClassifyAccuracy(accuracyMeters float64) Quality {
	switch {
	case accuracyMeters < 20:
		return HighFidelity
	case accuracyMeters <= 50:
		return Moderate
	default:
		return WideMargin
	}
}

// NeedsReview reports whether an entry with this quality should be checked by hand.
func (q Quality) NeedsReview() bool { return q == WideMargin }

// Label is the display text for q.
func (q Quality) Label() string {
	switch q {
	case HighFidelity:
		return "high fidelity"
	case Moderate:
		return "moderate"
	case WideMargin:
		return "wide margin, flag for manual review"
	default:
		return ""
	}
}
