package negotiation

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// render fills {key} placeholders in a single pass, so substituted text is never expanded again.
func render(template string, values map[string]any) string {
	pairs := make([]string, 0, 2*len(values))
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func formatTranscript(turns []Turn) string {
	if len(turns) == 0 {
		return "No messages"
	}

	var builder strings.Builder

	for _, turn := range turns {
		builder.WriteString(fmt.Sprintf("%s - %s (%s): %s\n", turn.At.Format("15:04:05"), turn.Role, turn.Speaker, turn.Text))
	}

	return strings.TrimSpace(builder.String())
}

func formatReflections(reflections []string) string {
	if len(reflections) == 0 {
		return "None yet"
	}

	var builder strings.Builder

	for i, r := range reflections {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, r))
	}

	return strings.TrimSpace(builder.String())
}

func orNone(text string) string {
	if strings.TrimSpace(text) == "" {
		return "None"
	}
	return text
}

// normalize makes utterances comparable regardless of whitespace and Unicode composition.
func normalize(text string) string {
	text = norm.NFC.String(text)

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, text)
}
