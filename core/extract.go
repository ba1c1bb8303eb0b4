package orchestration

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-z0-9][a-z0-9._%+\-]*@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}`)

	// spokenEmail rewrites how people read addresses out loud.
	spokenEmail = strings.NewReplacer(
		" at ", "@",
		" dot ", ".",
		" underscore ", "_",
		" dash ", "-",
		" hyphen ", "-",
	)

	emailFillerWords = map[string]struct{}{
		"my": {}, "email": {}, "e-mail": {}, "address": {}, "is": {}, "it's": {},
		"its": {}, "it": {}, "sure": {}, "yes": {}, "yeah": {}, "um": {}, "uh": {},
		"the": {}, "that's": {}, "ok": {}, "okay": {}, "so": {}, "and": {},
	}
)

// extractEmail finds an email address in recognized speech, including one
// spelled out as "john dot doe at example dot com". emailOnly reports that
// the text carried nothing else worth searching for.
func extractEmail(text string) (email string, emailOnly bool) {
	normalized := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	normalized = spokenEmail.Replace(normalized)

	email = emailPattern.FindString(normalized)
	if email == "" {
		return "", false
	}

	rest := strings.Replace(normalized, email, " ", 1)
	substantive := 0
	for _, word := range strings.Fields(rest) {
		word = strings.Trim(word, ".,!?;:")
		if word == "" {
			continue
		}
		if _, filler := emailFillerWords[word]; !filler {
			substantive++
		}
	}
	return email, substantive < 3
}
