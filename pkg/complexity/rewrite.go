package complexity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/models"
)

var (
	sentenceEnd   = regexp.MustCompile(`([.!?])\s+|\n+`)
	parenthetical = regexp.MustCompile(`\s*\([^()]*\)`)
	elaboration   = regexp.MustCompile(`(?i)^(note|please note|for example|e\.g\.|for instance|in other words|basically|as mentioned|this means|keep in mind|fyi|by the way|ideally|it is important)\b`)
	asides        = regexp.MustCompile(`(?i),?\s*\b(for example|e\.g\.|such as|i\.e\.)\b[^,.;]*`)
)

// sentences splits text on terminal punctuation and line breaks, keeping the
// punctuation with its sentence.
func sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(text, -1) {
		end := loc[0]
		if loc[2] >= 0 {
			end = loc[3]
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

func hasSignal(s string) bool {
	return actorPattern.MatchString(s) ||
		gatewayPattern.MatchString(s) ||
		eventPattern.MatchString(s) ||
		timerPattern.MatchString(s) ||
		loopPattern.MatchString(s) ||
		subprocessPattern.MatchString(s) ||
		routingPattern.MatchString(s)
}

// Simplify drops elaboration while keeping actors, steps, decisions and the
// happy path. Sentences that mention any structural signal are always kept;
// sentences opening with an elaboration marker are dropped, as are
// parentheticals and inline examples.
func Simplify(text string) string {
	var kept []string
	seen := make(map[string]bool)
	for _, s := range sentences(text) {
		if elaboration.MatchString(s) && !gatewayPattern.MatchString(s) {
			continue
		}
		s = parenthetical.ReplaceAllString(s, "")
		s = asides.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(kept, " ")
}

// Split partitions a prompt into 2 to 4 self-contained sub-prompts. Sentences
// are distributed in order so every actor, decision and event of the original
// lands in exactly one part; each part is prefixed with the shared participant
// list so it can be generated on its own. A prompt with fewer than two
// sentences cannot be split and yields nil.
func Split(text string, p models.ComplexityProfile) []string {
	sents := sentences(text)
	if len(sents) < 2 {
		return nil
	}
	k := partCount(p)
	if k > len(sents) {
		k = len(sents)
	}

	chunks := balance(sents, k)
	actors := actorNames(text)
	out := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		var b strings.Builder
		fmt.Fprintf(&b, "Part %d of %d of a larger process.", i+1, len(chunks))
		if len(actors) > 0 {
			fmt.Fprintf(&b, " Participants: %s.", strings.Join(actors, ", "))
		}
		if i > 0 {
			b.WriteString(" Start where the previous part ended.")
		}
		if i < len(chunks)-1 {
			b.WriteString(" End with a hand-off to the next part.")
		}
		b.WriteString("\n\n")
		b.WriteString(strings.Join(chunk, " "))
		out = append(out, b.String())
	}
	return out
}

// partCount grows with length and how far the score overshoots.
func partCount(p models.ComplexityProfile) int {
	k := 2
	if p.Length > 4000 {
		k++
	}
	if p.Length > 8000 || p.Counts.Actors >= 8 || p.Counts.Subprocesses >= 3 {
		k++
	}
	if k > 4 {
		k = 4
	}
	return k
}

// balance cuts sents into k contiguous groups of roughly equal character length.
func balance(sents []string, k int) [][]string {
	total := 0
	for _, s := range sents {
		total += len(s)
	}
	target := total / k

	groups := make([][]string, 0, k)
	var cur []string
	size := 0
	for i, s := range sents {
		cur = append(cur, s)
		size += len(s)
		remainingSents := len(sents) - i - 1
		remainingGroups := k - len(groups) - 1
		if remainingGroups == 0 {
			continue
		}
		if size >= target || remainingSents == remainingGroups {
			groups = append(groups, cur)
			cur, size = nil, 0
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
