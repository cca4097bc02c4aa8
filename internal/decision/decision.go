// Package decision turns a finished interview into a scored verdict.
//
// [Evaluate] is a pure function: it reads a transcript snapshot and the
// document set, never fails, and returns the same [Verdict] for the same
// input. Rules run in a fixed order and the document and outcome gates short
// circuit the scoring heuristics.
package decision

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/visaroom/internal/interview"
)

// Decision is the verdict outcome.
type Decision string

const (
	Granted Decision = "GRANTED"
	Denied  Decision = "DENIED"
	Pending Decision = "PENDING"
)

// Verdict is the structured result of one interview.
type Verdict struct {
	Decision       Decision `json:"decision"`
	Score          int      `json:"score"`
	Reason         string   `json:"reason"`
	RedFlags       []string `json:"redFlags"`
	Positives      []string `json:"positives"`
	Recommendation string   `json:"recommendation"`
	NextSteps      []string `json:"nextSteps,omitempty"`
}

// Clone returns a copy of v that shares no slices with it.
func (v Verdict) Clone() Verdict {
	v.RedFlags = slices.Clone(v.RedFlags)
	v.Positives = slices.Clone(v.Positives)
	v.NextSteps = slices.Clone(v.NextSteps)
	return v
}

// Precedence selects the outcome when an officer transcript contains both
// approval and denial phrases.
type Precedence string

const (
	PrecedenceApproval Precedence = "approval"
	PrecedenceDenial   Precedence = "denial"
)

// ParsePrecedence validates a configured precedence. The empty string selects
// PrecedenceApproval.
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(s))) {
	case "", PrecedenceApproval:
		return PrecedenceApproval, nil
	case PrecedenceDenial:
		return PrecedenceDenial, nil
	default:
		return "", fmt.Errorf("decision: unknown precedence %q (want %q or %q)", s, PrecedenceApproval, PrecedenceDenial)
	}
}

// Options tunes Evaluate.
type Options struct {
	Precedence Precedence
}

// Score deductions and thresholds.
const (
	startScore = 100

	penaltyNoFinancialProof = 35
	penaltyNoSupportingDocs = 15
	penaltyVagueAnswers     = 20
	penaltyNoDestination    = 10
	penaltyNoPurpose        = 10
	penaltyTooBrief         = 15

	vagueAnswerLimit    = 3
	minApplicantAnswers = 3

	approvalFloor = 75
	denialCap     = 35

	grantThreshold   = 70
	pendingThreshold = 45
	maxGrantFlags    = 1

	// Scored verdicts never reach 0, which is reserved for the two gate
	// denials.
	minScoredScore = 1
	maxScore       = 100
)

// Evaluate computes the verdict for a finished interview.
func Evaluate(entries []interview.Entry, docs interview.DocumentSet, opts Options) Verdict {
	// 1. Passport gate.
	if !docs.Has(interview.KindPassport) {
		return Verdict{
			Decision:       Denied,
			Score:          0,
			Reason:         "Missing passport - automatic grounds for denial",
			RedFlags:       []string{"No passport uploaded - mandatory requirement"},
			Positives:      []string{},
			Recommendation: "Application cannot proceed without valid passport",
		}
	}

	// 2. Empty transcript.
	if len(entries) == 0 {
		return Verdict{
			Decision:       Denied,
			Score:          0,
			Reason:         "No interview conducted",
			RedFlags:       []string{"Interview not completed"},
			Positives:      []string{},
			Recommendation: "Complete the interview before a decision can be made",
		}
	}

	s := &scorecard{score: startScore, redFlags: []string{}, positives: []string{"Valid passport provided"}}

	// 3. Document scoring.
	if docs.Has(interview.KindFinancialProof) {
		s.positive("Financial documentation provided")
	} else {
		s.deduct(penaltyNoFinancialProof, "Missing financial proof/bank statement")
	}
	if docs.Has(interview.KindSupportingDocuments) {
		s.positive("Supporting documents provided")
	} else {
		s.deduct(penaltyNoSupportingDocs, "Missing supporting documents (employment letter, invitation, etc.)")
	}

	// 4. Explicit outcome stated by the officer.
	if v, ok := explicitOutcome(entries, s, opts.Precedence); ok {
		return v
	}

	// 5. Heuristics over the applicant's answers.
	scoreAnswers(interview.Filter(entries, interview.RoleApplicant), s)

	// 6. Banding.
	return band(s)
}

type scorecard struct {
	score     int
	redFlags  []string
	positives []string
}

func (s *scorecard) deduct(points int, flag string) {
	s.score -= points
	s.redFlags = append(s.redFlags, flag)
}

func (s *scorecard) positive(p string) {
	s.positives = append(s.positives, p)
}

func (s *scorecard) clamped() int {
	return min(max(s.score, minScoredScore), maxScore)
}

func explicitOutcome(entries []interview.Entry, s *scorecard, precedence Precedence) (Verdict, bool) {
	officer := interview.Filter(entries, interview.RoleInterviewer)

	var approved, denied bool
	for _, e := range officer {
		sig := interview.Classify(e.Text)
		approved = approved || sig.Approval
		denied = denied || sig.Denial
	}

	if approved && denied {
		if precedence == PrecedenceDenial {
			approved = false
		} else {
			denied = false
		}
	}

	switch {
	case approved:
		return Verdict{
			Decision:       Granted,
			Score:          min(max(s.score, approvalFloor), maxScore),
			Reason:         "Application approved by consular officer",
			RedFlags:       s.redFlags,
			Positives:      append(s.positives, "Approved by officer", "Satisfactory interview responses"),
			Recommendation: "Visa granted - collect passport in 3-5 business days",
		}, true
	case denied:
		return Verdict{
			Decision:       Denied,
			Score:          max(min(s.score, denialCap), minScoredScore),
			Reason:         interview.DenialReason(officer[len(officer)-1].Text),
			RedFlags:       append(s.redFlags, "Officer determined application unsatisfactory"),
			Positives:      s.positives,
			Recommendation: "Application denied - reapply with complete documentation",
		}, true
	}
	return Verdict{}, false
}

func scoreAnswers(answers []interview.Entry, s *scorecard) {
	vague := 0
	var destination, purpose bool
	for _, a := range answers {
		if interview.IsVague(a.Text) {
			vague++
		}
		destination = destination || interview.MentionsDestination(a.Text)
		purpose = purpose || interview.MentionsPurpose(a.Text)
	}

	if vague > vagueAnswerLimit {
		s.deduct(penaltyVagueAnswers, fmt.Sprintf("Multiple vague or incomplete answers (%d instances)", vague))
	}
	if destination {
		s.positive("Clear destination country specified")
	} else {
		s.deduct(penaltyNoDestination, "Destination country unclear")
	}
	if purpose {
		s.positive("Purpose of visit stated")
	} else {
		s.deduct(penaltyNoPurpose, "Purpose of visit unclear")
	}
	if len(answers) < minApplicantAnswers {
		s.deduct(penaltyTooBrief, "Interview too brief - insufficient information gathered")
	}
}

func band(s *scorecard) Verdict {
	score := s.clamped()
	switch {
	case score >= grantThreshold && len(s.redFlags) <= maxGrantFlags:
		return Verdict{
			Decision:       Granted,
			Score:          score,
			Reason:         "Complete documentation and satisfactory interview responses",
			RedFlags:       s.redFlags,
			Positives:      s.positives,
			Recommendation: "Visa approved - collect passport in 3-5 business days",
		}
	case score >= pendingThreshold && score < grantThreshold:
		return Verdict{
			Decision:       Pending,
			Score:          score,
			Reason:         "Additional administrative processing required",
			RedFlags:       s.redFlags,
			Positives:      s.positives,
			Recommendation: "Submit missing documents within 5 business days",
			NextSteps:      nextSteps(s.redFlags),
		}
	default:
		return Verdict{
			Decision:       Denied,
			Score:          score,
			Reason:         "Incomplete documentation and/or unsatisfactory interview",
			RedFlags:       s.redFlags,
			Positives:      s.positives,
			Recommendation: "Reapply with complete documentation and preparation",
		}
	}
}

// nextSteps maps each red flag to a remediation instruction.
func nextSteps(flags []string) []string {
	steps := make([]string, 0, len(flags))
	for _, f := range flags {
		switch {
		case strings.Contains(f, "financial"):
			steps = append(steps, "Submit bank statements or financial proof")
		case strings.Contains(f, "supporting"):
			steps = append(steps, "Submit employment letter or supporting documents")
		case strings.Contains(f, "vague"):
			steps = append(steps, "Prepare clearer, more specific answers for follow-up")
		default:
			steps = append(steps, "Provide additional documentation as requested")
		}
	}
	return steps
}
