package feedback

// Thresholds are the configurable routing cut-offs.
type Thresholds struct {
	ConfidenceFloor   float64
	PositiveThreshold float64
}

// Decide maps a verdict to a routing decision. A nil verdict is a
// classification failure.
func Decide(v *Verdict, th Thresholds) Decision {
	if v == nil || !v.Label.Valid() || v.Confidence < th.ConfidenceFloor {
		return DecisionManualReview
	}
	switch {
	case v.Label == LabelNegative:
		return DecisionEscalate
	case v.Label == LabelPositive && v.Confidence >= th.PositiveThreshold:
		return DecisionRequestReview
	}
	return DecisionLogNeutral
}
