package interview

import (
	"strings"
	"unicode"
)

// DecisionMarker is the literal tag the officer persona emits when it closes
// the interview.
const DecisionMarker = "[DECISION]"

// Phrase tables. Matching is case-insensitive substring matching unless noted.
// Outcome phrases do not count when negated ("cannot be approved.").
var (
	approvalPhrases = []string{
		"visa is approved",
		"application is approved",
		"approved.",
		"collect your passport",
	}

	denialPhrases = []string{
		"application is denied",
		"visa is denied",
		"denied.",
		"cannot approve",
		"your application has been denied",
	}

	// Hold phrases close the interview without an explicit outcome.
	holdPhrases = []string{
		"application is on hold",
		"requires additional documentation",
		"administrative processing",
	}

	hedgingPhrases = []string{
		"maybe",
		"i think",
		"probably",
		"not sure",
		"i guess",
		"kind of",
		"sort of",
	}

	purposeKeywords = []string{
		"study",
		"work",
		"tourist",
		"business",
		"visit",
		"university",
		"job",
		"conference",
	}

	// Destinations are matched on whole words so that "uk" does not fire
	// inside "ukulele".
	destinations = []string{
		"korea",
		"japan",
		"usa",
		"america",
		"united states",
		"uk",
		"united kingdom",
		"britain",
		"england",
		"canada",
		"australia",
		"germany",
		"france",
	}
)

// denialReasons is checked in order against the last officer entry; the
// first category with a matching keyword names the reason.
var denialReasons = []struct {
	keywords []string
	reason   string
}{
	{[]string{"financial"}, "Insufficient financial documentation"},
	{[]string{"cooperation", "answers"}, "Insufficient cooperation and lack of direct answers"},
	{[]string{"employment"}, "Unclear employment status"},
	{[]string{"return", "home country"}, "Weak ties to home country"},
}

// GenericDenialReason is used when no denial category matches.
const GenericDenialReason = "Insufficient cooperation and incomplete information"

// Signal is the classification of one piece of officer text.
type Signal struct {
	Approval bool
	Denial   bool
	Hold     bool
	Marker   bool
}

// Ending reports whether the text closes the interview.
func (s Signal) Ending() bool {
	return s.Approval || s.Denial || s.Hold || s.Marker
}

// Classify scans officer text for outcome phrases and the decision marker.
func Classify(text string) Signal {
	lower := strings.ToLower(text)
	return Signal{
		Approval: containsAffirmed(lower, approvalPhrases),
		Denial:   containsAffirmed(lower, denialPhrases),
		Hold:     containsAny(lower, holdPhrases),
		Marker:   strings.Contains(lower, strings.ToLower(DecisionMarker)),
	}
}

// IsEnding reports whether officer text carries an interview-ending signal.
func IsEnding(text string) bool {
	return Classify(text).Ending()
}

// DenialReason classifies the reason for a denial from the officer's final
// words.
func DenialReason(lastOfficerText string) string {
	lower := strings.ToLower(lastOfficerText)
	for _, r := range denialReasons {
		if containsAny(lower, r.keywords) {
			return r.reason
		}
	}
	return GenericDenialReason
}

// IsVague reports whether an applicant answer hedges or is too short to be
// informative.
func IsVague(text string) bool {
	if len([]rune(strings.TrimSpace(text))) < 15 {
		return true
	}
	return containsAny(strings.ToLower(text), hedgingPhrases)
}

// MentionsPurpose reports whether text names a travel purpose.
func MentionsPurpose(text string) bool {
	return containsAny(strings.ToLower(text), purposeKeywords)
}

// MentionsDestination reports whether text names a recognized destination as
// whole words.
func MentionsDestination(text string) bool {
	padded := " " + strings.Join(Words(text), " ") + " "
	for _, d := range destinations {
		if strings.Contains(padded, " "+d+" ") {
			return true
		}
	}
	return false
}

// Destinations returns the recognized destination names.
func Destinations() []string {
	out := make([]string, len(destinations))
	copy(out, destinations)
	return out
}

// Words lower-cases text and splits it into letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// negators cancel an outcome phrase when found among the two words before
// it. "t" is what Words leaves of "can't" and "won't".
var negators = map[string]bool{"not": true, "cannot": true, "never": true, "t": true}

// containsAffirmed is containsAny for outcome phrases: an occurrence preceded
// by a negation is skipped.
func containsAffirmed(lower string, phrases []string) bool {
	for _, p := range phrases {
		for from := 0; ; {
			i := strings.Index(lower[from:], p)
			if i < 0 {
				break
			}
			i += from
			if !negated(lower[:i]) {
				return true
			}
			from = i + len(p)
		}
	}
	return false
}

func negated(prefix string) bool {
	w := Words(prefix)
	for _, x := range w[max(0, len(w)-2):] {
		if negators[x] {
			return true
		}
	}
	return false
}
