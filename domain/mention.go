package domain

import "regexp"

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions scans a message body for @name tokens and returns the
// captured names in order of first appearance. Duplicates are preserved:
// the UI decides how to render repeated mentions, not the engine.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, m[1])
	}
	return mentions
}
