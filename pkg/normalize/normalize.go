// Package normalize cleans raw prompt text before it reaches the cache and
// the complexity router. Every function here is pure and never fails.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/models"
)

var (
	blankRuns = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	fenceLine = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_-]*[ \t]*$\n?")
)

// envelope is the optional structured wrapper a client may send instead of
// plain text.
type envelope struct {
	Content  string          `json:"content"`
	Prompt   string          `json:"prompt"`
	Options  *models.Options `json:"options"`
	Metadata map[string]any  `json:"metadata"`
	ID       string          `json:"id"`
	Session  string          `json:"sessionId"`
	User     string          `json:"userId"`
}

// Normalize turns raw input into a NormalizedInput.
func Normalize(raw string) models.NormalizedInput {
	out := models.NormalizedInput{}

	text := strings.TrimSpace(raw)
	if env, rest, ok := parseEnvelope(text); ok {
		text = rest
		if env.Options != nil {
			out.Options = *env.Options
		}
		out.Metadata = flattenMetadata(env)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = fenceLine.ReplaceAllString(text, "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	out.Content = text
	out.Language = DetectLanguage(text)
	return out
}

// parseEnvelope decodes a leading JSON object. The remainder after the object
// is appended to the envelope content so nothing the caller sent is lost.
func parseEnvelope(text string) (envelope, string, bool) {
	if !strings.HasPrefix(text, "{") {
		return envelope{}, "", false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, "", false
	}
	content := env.Content
	if content == "" {
		content = env.Prompt
	}
	if content == "" {
		return envelope{}, "", false
	}
	rest := strings.TrimSpace(text[dec.InputOffset():])
	if rest != "" {
		content += "\n\n" + rest
	}
	return env, content, true
}

func flattenMetadata(env envelope) map[string]string {
	md := make(map[string]string)
	for k, v := range env.Metadata {
		switch val := v.(type) {
		case string:
			md[k] = val
		case nil:
		default:
			md[k] = fmt.Sprint(val)
		}
	}
	if env.ID != "" {
		md["id"] = env.ID
	}
	if env.Session != "" {
		md["sessionId"] = env.Session
	}
	if env.User != "" {
		md["userId"] = env.User
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// CanonicalKey folds casing and whitespace so prompts that differ only in
// formatting map to the same cache key.
func CanonicalKey(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
