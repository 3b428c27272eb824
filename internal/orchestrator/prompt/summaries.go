package prompt

import "strings"

const (
	maxSummaryWords  = 500
	maxCombinedWords = 2000

	omittedPlaceholder = "(remaining predecessor summaries omitted for brevity)"
)

// truncateWords caps text at n words.
func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + " …"
}

// predecessorSection renders the WHAT HAPPENED BEFORE YOU block from
// completed predecessors, direct dependencies first. Each summary is capped
// at 500 words and the whole block at 2000; the overflow tail collapses to a
// single placeholder line.
func predecessorSection(preds []predecessorSummary) string {
	var lines []string
	total := 0
	for _, p := range preds {
		if p.summary == "" {
			continue
		}
		capped := truncateWords(p.summary, maxSummaryWords)
		words := len(strings.Fields(capped))
		if total+words > maxCombinedWords {
			lines = append(lines, omittedPlaceholder)
			break
		}
		total += words
		lines = append(lines, "- "+p.name+": "+capped)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

type predecessorSummary struct {
	name    string
	summary string
}
