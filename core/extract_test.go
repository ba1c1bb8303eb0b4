package orchestration

import "testing"

func TestExtractEmail(t *testing.T) {
	testCases := []struct {
		name      string
		text      string
		email     string
		emailOnly bool
	}{
		{name: "written", text: "My email is jane.doe@example.com", email: "jane.doe@example.com", emailOnly: true},
		{name: "spoken", text: "it's jane dot doe at example dot com", email: "jane.doe@example.com", emailOnly: true},
		{name: "with issue", text: "I'm jane@example.com and I cannot log in to the dashboard", email: "jane@example.com", emailOnly: false},
		{name: "none", text: "I forgot my password", email: "", emailOnly: false},
		{name: "upper case", text: "JANE@EXAMPLE.COM", email: "jane@example.com", emailOnly: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			email, emailOnly := extractEmail(testCase.text)
			if email != testCase.email {
				t.Fatalf("expected email %q, got %q", testCase.email, email)
			}
			if emailOnly != testCase.emailOnly {
				t.Fatalf("expected emailOnly %v, got %v", testCase.emailOnly, emailOnly)
			}
		})
	}
}
