package interview

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Signal
	}{
		{"Your visa is approved. Collect your passport in 3-5 business days.", Signal{Approval: true}},
		{"Your application is denied. Insufficient financial documentation. Good day.", Signal{Denial: true}},
		{"I cannot approve this application.", Signal{Denial: true}},
		{"[DECISION]: **PENDING**", Signal{Marker: true}},
		{"Your application is on hold pending verification.", Signal{Hold: true}},
		{"What is the purpose of your visit?", Signal{}},
		{"YOUR VISA IS APPROVED", Signal{Approval: true}},
		{"Approved.", Signal{Approval: true}},
		{"Your application cannot be approved.", Signal{}},
		{"Your visa has not been approved.", Signal{}},
		{"I'm afraid it can't be approved.", Signal{}},
		{"This request was never denied.", Signal{}},
		{"I cannot approve this. Denied.", Signal{Denial: true}},
	}
	for _, tt := range tests {
		got := Classify(tt.text)
		if got != tt.want {
			t.Errorf("Classify(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
		if got.Ending() != IsEnding(tt.text) {
			t.Errorf("IsEnding(%q) disagrees with Classify", tt.text)
		}
	}
}

func TestDenialReason(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Your application is denied. Insufficient financial documentation. Good day.", "Insufficient financial documentation"},
		{"Your application is denied. You did not give direct answers. Good day.", "Insufficient cooperation and lack of direct answers"},
		{"Your application is denied. Your employment is unclear. Good day.", "Unclear employment status"},
		{"Denied. I am not convinced you will return. Good day.", "Weak ties to home country"},
		{"Your application is denied. Good day.", GenericDenialReason},
	}
	for _, tt := range tests {
		if got := DenialReason(tt.text); got != tt.want {
			t.Errorf("DenialReason(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestIsVague(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Japan.", true},
		{"I think I will stay two weeks in Tokyo.", true},
		{"I will stay for two weeks in Tokyo with my sister.", false},
		{"Not sure about the exact hotel name yet.", true},
	}
	for _, tt := range tests {
		if got := IsVague(tt.text); got != tt.want {
			t.Errorf("IsVague(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMentionsDestination(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I am going to Japan for two weeks.", true},
		{"I want to study in the UK.", true},
		{"I play the ukulele.", false},
		{"I'm visiting the United States next month.", true},
		{"Somewhere warm.", false},
	}
	for _, tt := range tests {
		if got := MentionsDestination(tt.text); got != tt.want {
			t.Errorf("MentionsDestination(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMentionsPurpose(t *testing.T) {
	if !MentionsPurpose("I am a TOURIST.") {
		t.Error("tourist should be a purpose")
	}
	if MentionsPurpose("Just because.") {
		t.Error("no purpose keyword expected")
	}
}

func TestWords(t *testing.T) {
	got := Words("Hello, South-Korea!  2026")
	want := []string{"hello", "south", "korea", "2026"}
	if len(got) != len(want) {
		t.Fatalf("Words = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Words = %v, want %v", got, want)
		}
	}
}

func TestDestinationsReturnsCopy(t *testing.T) {
	d := Destinations()
	d[0] = "atlantis"
	if Destinations()[0] == "atlantis" {
		t.Fatal("Destinations must return a copy")
	}
}
