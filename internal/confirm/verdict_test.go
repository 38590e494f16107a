package confirm

import "testing"

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		text string
		want Verdict
	}{
		{"Yes", VerdictApprove},
		{"yeah go ahead", VerdictApprove},
		{"  OK  ", VerdictApprove},
		{"please proceed", VerdictApprove},
		{"No", VerdictDeny},
		{"cancel that", VerdictDeny},
		{"Don't!", VerdictDeny},
		{"stop", VerdictDeny},
		{"what time is it", VerdictUnknown},
		{"", VerdictUnknown},
		// affirmative phrases are checked first
		{"no, wait, yes", VerdictApprove},
		// whole words only
		{"no, look at it first", VerdictDeny},
		{"nope, that's broken", VerdictDeny},
		{"tokens", VerdictUnknown},
		// negated affirmatives
		{"no, don't do it", VerdictDeny},
		{"don’t do it", VerdictDeny},
		{"do not do it", VerdictDeny},
		{"dont allow that", VerdictDeny},
		{"I'm not sure", VerdictUnknown},
		{"just do it", VerdictApprove},
		{"OK, go ahead.", VerdictApprove},
	}
	for _, tc := range cases {
		if got := ParseVerdict(tc.text); got != tc.want {
			t.Errorf("ParseVerdict(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
