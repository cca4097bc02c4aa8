package decision

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/visaroom/internal/interview"
)

var (
	fullDocs = interview.DocumentSet{
		interview.KindPassport:            {Name: "passport.pdf"},
		interview.KindFinancialProof:      {Name: "bank.pdf"},
		interview.KindSupportingDocuments: {Name: "employment.pdf"},
	}
	passportOnly = interview.DocumentSet{
		interview.KindPassport: {Name: "passport.pdf"},
	}
)

// transcript builds entries from alternating (role, text) pairs.
func transcript(pairs ...string) []interview.Entry {
	var out []interview.Entry
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, interview.Entry{
			Role:     interview.Role(pairs[i]),
			Text:     pairs[i+1],
			Sequence: len(out),
		})
	}
	return out
}

const (
	officer   = string(interview.RoleInterviewer)
	applicant = string(interview.RoleApplicant)
)

var goodInterview = transcript(
	officer, "Good morning. Which country are you visiting and on what visa?",
	applicant, "I am applying for a tourist visa to visit Japan.",
	officer, "How long will you stay?",
	applicant, "Two weeks, from the first to the fifteenth of May.",
	officer, "Where will you stay?",
	applicant, "At a hotel in Kyoto that I have already booked.",
)

func TestEvaluate_PassportGateDominates(t *testing.T) {
	transcripts := [][]interview.Entry{
		nil,
		goodInterview,
		transcript(officer, "Your visa is approved. Collect your passport in 3-5 business days."),
	}
	docSets := []interview.DocumentSet{
		nil,
		{},
		{interview.KindFinancialProof: {Name: "bank.pdf"}, interview.KindSupportingDocuments: {Name: "e.pdf"}},
		{interview.KindPassport: {Name: "  "}},
	}

	for _, tr := range transcripts {
		for _, docs := range docSets {
			v := Evaluate(tr, docs, Options{})
			if v.Decision != Denied || v.Score != 0 {
				t.Fatalf("docs=%v: got %s/%d, want DENIED/0", docs, v.Decision, v.Score)
			}
			if v.Reason != "Missing passport - automatic grounds for denial" {
				t.Fatalf("reason = %q", v.Reason)
			}
		}
	}
}

func TestEvaluate_EmptyTranscript(t *testing.T) {
	v := Evaluate(nil, fullDocs, Options{})
	if v.Decision != Denied || v.Score != 0 {
		t.Fatalf("got %s/%d, want DENIED/0", v.Decision, v.Score)
	}
	if !strings.EqualFold(v.Reason, "no interview conducted") {
		t.Fatalf("reason = %q", v.Reason)
	}
	if len(v.Positives) != 0 {
		t.Fatalf("positives = %v, want none", v.Positives)
	}
}

func TestEvaluate_CleanInterviewIsGranted(t *testing.T) {
	v := Evaluate(goodInterview, fullDocs, Options{})
	if v.Decision != Granted {
		t.Fatalf("decision = %s, want GRANTED (flags %v)", v.Decision, v.RedFlags)
	}
	if v.Score != 100 {
		t.Fatalf("score = %d, want 100", v.Score)
	}
	if len(v.RedFlags) != 0 {
		t.Fatalf("redFlags = %v, want none", v.RedFlags)
	}
	want := []string{
		"Valid passport provided",
		"Financial documentation provided",
		"Supporting documents provided",
		"Clear destination country specified",
		"Purpose of visit stated",
	}
	if !reflect.DeepEqual(v.Positives, want) {
		t.Fatalf("positives = %v, want %v", v.Positives, want)
	}
}

func TestEvaluate_ExplicitDenialClassifiesReason(t *testing.T) {
	docs := interview.DocumentSet{
		interview.KindPassport:            {Name: "passport.pdf"},
		interview.KindSupportingDocuments: {Name: "e.pdf"},
	}
	tr := transcript(
		officer, "Good morning.",
		applicant, "I want to visit Canada for a conference.",
		officer, "Your application is denied. Insufficient financial documentation. Good day.",
	)

	v := Evaluate(tr, docs, Options{})
	if v.Decision != Denied {
		t.Fatalf("decision = %s, want DENIED", v.Decision)
	}
	if v.Score > 35 || v.Score == 0 {
		t.Fatalf("score = %d, want 1..35", v.Score)
	}
	if v.Reason != "Insufficient financial documentation" {
		t.Fatalf("reason = %q", v.Reason)
	}
	if last := v.RedFlags[len(v.RedFlags)-1]; last != "Officer determined application unsatisfactory" {
		t.Fatalf("last red flag = %q", last)
	}
}

func TestEvaluate_DenialReasonUsesLastOfficerEntry(t *testing.T) {
	tr := transcript(
		officer, "Tell me about your financial situation.",
		applicant, "I work at a bank in Seoul as an analyst.",
		officer, "Your visa is denied. You have weak ties to your home country. Good day.",
		applicant, "Thank you.",
	)
	v := Evaluate(tr, fullDocs, Options{})
	if v.Reason != "Weak ties to home country" {
		t.Fatalf("reason = %q, want the last officer entry to be classified", v.Reason)
	}
}

func TestEvaluate_ExplicitApprovalFloorsScore(t *testing.T) {
	tr := transcript(
		officer, "Good morning.",
		applicant, "Hi.",
		officer, "Your visa is approved. Collect your passport in 3-5 business days.",
	)
	v := Evaluate(tr, passportOnly, Options{})
	if v.Decision != Granted {
		t.Fatalf("decision = %s, want GRANTED", v.Decision)
	}
	if v.Score != 75 {
		t.Fatalf("score = %d, want 75 (50 floored)", v.Score)
	}
	if !contains(v.Positives, "Approved by officer") {
		t.Fatalf("positives = %v, want 'Approved by officer'", v.Positives)
	}
}

func TestEvaluate_Precedence(t *testing.T) {
	tr := transcript(
		officer, "I cannot approve this without a bank statement.",
		applicant, "Here it is, I uploaded it just now.",
		officer, "Thank you. Your visa is approved.",
	)

	if v := Evaluate(tr, fullDocs, Options{}); v.Decision != Granted {
		t.Errorf("default precedence: decision = %s, want GRANTED", v.Decision)
	}
	if v := Evaluate(tr, fullDocs, Options{Precedence: PrecedenceApproval}); v.Decision != Granted {
		t.Errorf("approval precedence: decision = %s, want GRANTED", v.Decision)
	}
	if v := Evaluate(tr, fullDocs, Options{Precedence: PrecedenceDenial}); v.Decision != Denied {
		t.Errorf("denial precedence: decision = %s, want DENIED", v.Decision)
	}
}

func TestEvaluate_PendingWithNextSteps(t *testing.T) {
	docs := interview.DocumentSet{
		interview.KindPassport:            {Name: "passport.pdf"},
		interview.KindSupportingDocuments: {Name: "e.pdf"},
	}
	v := Evaluate(goodInterview, docs, Options{})
	if v.Decision != Pending {
		t.Fatalf("decision = %s, want PENDING", v.Decision)
	}
	if v.Score != 65 {
		t.Fatalf("score = %d, want 65", v.Score)
	}
	want := []string{"Submit bank statements or financial proof"}
	if !reflect.DeepEqual(v.NextSteps, want) {
		t.Fatalf("nextSteps = %v, want %v", v.NextSteps, want)
	}
}

func TestEvaluate_VagueAnswers(t *testing.T) {
	tr := transcript(
		officer, "Which country?",
		applicant, "Maybe Japan.",
		officer, "Why?",
		applicant, "I guess tourist.",
		officer, "How long?",
		applicant, "Not sure.",
		officer, "Where will you stay?",
		applicant, "Probably a hotel.",
	)
	v := Evaluate(tr, fullDocs, Options{})
	if v.Score != 80 {
		t.Fatalf("score = %d, want 80", v.Score)
	}
	if !contains(v.RedFlags, "Multiple vague or incomplete answers (4 instances)") {
		t.Fatalf("redFlags = %v", v.RedFlags)
	}
	if v.Decision != Granted {
		t.Fatalf("decision = %s, want GRANTED (single red flag)", v.Decision)
	}
}

func TestEvaluate_HighScoreWithTwoFlagsIsDenied(t *testing.T) {
	tr := transcript(
		officer, "Which country?",
		applicant, "I would like to attend a business meeting abroad.",
	)
	v := Evaluate(tr, fullDocs, Options{})
	// 100 - 10 (destination) - 15 (brief) = 75 with two red flags.
	if v.Score != 75 || len(v.RedFlags) != 2 {
		t.Fatalf("score/flags = %d/%v", v.Score, v.RedFlags)
	}
	if v.Decision != Denied {
		t.Fatalf("decision = %s, want DENIED", v.Decision)
	}
}

func TestEvaluate_Banding(t *testing.T) {
	answers := []string{
		"I am going to Japan as a tourist for two weeks.",
		"Maybe.",
		"I have a job at a software company in Seoul.",
		"I guess so.",
		"Somewhere nice with my family for the holidays.",
		"Not sure.",
	}
	docSets := []interview.DocumentSet{fullDocs, passportOnly,
		{interview.KindPassport: {Name: "p"}, interview.KindFinancialProof: {Name: "b"}},
		{interview.KindPassport: {Name: "p"}, interview.KindSupportingDocuments: {Name: "s"}},
	}

	for mask := 0; mask < 1<<len(answers); mask++ {
		tr := transcript(officer, "Good morning.")
		for i, a := range answers {
			if mask&(1<<i) != 0 {
				tr = append(tr, interview.Entry{Role: interview.RoleApplicant, Text: a, Sequence: len(tr)})
			}
		}
		for _, docs := range docSets {
			v := Evaluate(tr, docs, Options{})
			if v.Score < 1 || v.Score > 100 {
				t.Fatalf("score %d out of range", v.Score)
			}
			var want Decision
			switch {
			case v.Score >= 70 && len(v.RedFlags) <= 1:
				want = Granted
			case v.Score >= 45 && v.Score < 70:
				want = Pending
			default:
				want = Denied
			}
			if v.Decision != want {
				t.Fatalf("mask=%b docs=%v: decision %s for score %d and %d flags, want %s",
					mask, docs, v.Decision, v.Score, len(v.RedFlags), want)
			}
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	docs := interview.DocumentSet{
		interview.KindPassport:       {Name: "passport.pdf"},
		interview.KindFinancialProof: {Name: "bank.pdf"},
	}
	first, _ := json.Marshal(Evaluate(goodInterview, docs, Options{}))
	for i := 0; i < 20; i++ {
		again, _ := json.Marshal(Evaluate(goodInterview, docs, Options{}))
		if string(again) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, again, first)
		}
	}
}

func TestVerdict_JSONShape(t *testing.T) {
	raw, err := json.Marshal(Evaluate(nil, nil, Options{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"decision", "score", "reason", "redFlags", "positives", "recommendation"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, raw)
		}
	}
	if _, ok := m["nextSteps"]; ok {
		t.Errorf("nextSteps should be omitted when empty: %s", raw)
	}
	if m["decision"] != "DENIED" {
		t.Errorf("decision = %v", m["decision"])
	}
	if pos, ok := m["positives"].([]any); !ok || len(pos) != 0 {
		t.Errorf("positives should encode as an empty list, got %v", m["positives"])
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		in   string
		want Precedence
		ok   bool
	}{
		{"", PrecedenceApproval, true},
		{"Approval", PrecedenceApproval, true},
		{"denial", PrecedenceDenial, true},
		{"coinflip", "", false},
	}
	for _, tt := range tests {
		got, err := ParsePrecedence(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParsePrecedence(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
