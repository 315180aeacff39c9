package agent

import (
	"regexp"
	"strings"
)

// A resume token is a code-formatted string a human can paste back into a
// chat channel to reattach a later message to an existing agent session.
var resumeTokenPattern = regexp.MustCompile("`?claude --resume ([A-Za-z0-9][A-Za-z0-9_-]*)`?")

// FormatResumeToken renders a session id as a shareable resume token.
func FormatResumeToken(sessionID string) string {
	return "`claude --resume " + sessionID + "`"
}

// ParseResumeToken extracts a session id from text containing a resume
// token. It accepts the token with or without code formatting.
func ParseResumeToken(text string) (string, bool) {
	match := resumeTokenPattern.FindStringSubmatch(strings.TrimSpace(text))
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}
