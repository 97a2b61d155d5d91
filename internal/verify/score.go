package verify

// Scoring weights reflect evidentiary strength. Search presence and a live
// HTTP fetch weigh most; bare DNS resolution weighs least because many
// registrars auto-provision DNS for domains with no site behind them.
var signalWeights = map[CheckType]float64{
	CheckSearch: 0.35,
	CheckHTTP:   0.30,
	CheckWHOIS:  0.20,
	CheckDNS:    0.15,
}

// Decision thresholds on the normalized 0..1 confidence.
const (
	ConfirmThreshold = 0.65
	AbsentThreshold  = 0.35
)

// Weight returns the scoring weight for a check type.
func Weight(c CheckType) float64 {
	return signalWeights[c]
}

// Contribution is the signed weight a signal carries toward the decision.
func Contribution(s Signal) float64 {
	switch s.Outcome {
	case OutcomePositive:
		return Weight(s.Check)
	case OutcomeNegative:
		return -Weight(s.Check)
	default:
		return 0
	}
}

// Verdict is the scorer's decision for one verification run.
type Verdict struct {
	Presence   Presence
	Confidence float64
	WebsiteURL string
	Usable     int
	Queried    int
}

// NoEvidence reports whether the run produced no usable signal at all. Such
// runs are eligible for automatic re-queue, capped by the scheduler.
func (v Verdict) NoEvidence() bool {
	return v.Queried > 0 && v.Usable == 0
}

// urlPreference orders check types when choosing which positive signal
// supplies the website URL. A successful HTTP fetch is the strongest claim
// to a concrete URL.
var urlPreference = []CheckType{CheckHTTP, CheckSearch, CheckDNS, CheckWHOIS}

// Score combines collector signals into a presence decision and confidence.
// It is pure and deterministic: the same multiset of signals always yields
// the same verdict. Confidence is the weighted positive share minus the
// weighted negative share, normalized into 0..1; error and inconclusive
// signals are excluded from the denominator because absence of evidence is
// not evidence.
func Score(signals []Signal) Verdict {
	var posWeight, negWeight float64
	usable := 0
	for _, s := range signals {
		switch s.Outcome {
		case OutcomePositive:
			posWeight += Weight(s.Check)
			usable++
		case OutcomeNegative:
			negWeight += Weight(s.Check)
			usable++
		}
	}

	v := Verdict{Usable: usable, Queried: len(signals)}
	total := posWeight + negWeight
	if total == 0 {
		v.Presence = PresenceUnknown
		v.Confidence = 0
		return v
	}

	v.Confidence = ((posWeight-negWeight)/total + 1) / 2

	switch {
	case v.Confidence >= ConfirmThreshold:
		v.Presence = PresenceConfirmed
		v.WebsiteURL = pickURL(signals)
	case v.Confidence <= AbsentThreshold:
		v.Presence = PresenceAbsent
	default:
		v.Presence = PresenceUnknown
	}
	// A confirmed decision requires a concrete URL; without one the evidence
	// is not actionable and the decision stays unknown.
	if v.Presence == PresenceConfirmed && v.WebsiteURL == "" {
		v.Presence = PresenceUnknown
	}
	return v
}

func pickURL(signals []Signal) string {
	for _, check := range urlPreference {
		for _, s := range signals {
			if s.Check == check && s.Outcome == OutcomePositive && s.URL != "" {
				return s.URL
			}
		}
	}
	return ""
}

// Reconcile applies flap protection against a business's prior verification.
// A later run may only downgrade confidence; it never flips a confirmed
// presence to absent unless its evidence set strictly dominates the prior one
// (at least as many collectors queried, every queried collector usable, and
// at least the prior usable breadth).
func Reconcile(prior Business, v Verdict) Verdict {
	if prior.Presence != PresenceConfirmed || v.Presence != PresenceAbsent {
		return v
	}
	if dominates(prior, v) {
		return v
	}
	// Blocked flip: retain the confirmed decision and URL, and downgrade
	// confidence to the confirmation floor. The conflicting run's own low
	// score is not adopted; it came from a weaker evidence set.
	v.Presence = PresenceConfirmed
	v.WebsiteURL = prior.WebsiteURL
	v.Confidence = ConfirmThreshold
	if prior.Confidence < v.Confidence {
		v.Confidence = prior.Confidence
	}
	return v
}

func dominates(prior Business, v Verdict) bool {
	return v.Queried >= prior.SignalsQueried &&
		v.Usable >= prior.SignalsUsable &&
		v.Usable == v.Queried
}
