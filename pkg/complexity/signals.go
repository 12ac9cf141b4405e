package complexity

import (
	"regexp"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Each pattern counts occurrences of one signal family. Actors are counted as
// distinct role nouns; every other family counts raw occurrences.
var (
	actorPattern = regexp.MustCompile(`(?i)\b(customers?|clients?|managers?|clerks?|employees?|supervisors?|administrators?|admins?|users?|agents?|approvers?|reviewers?|accountants?|warehouses?|suppliers?|vendors?|finance|hr|legal|departments?|teams?|operators?|technicians?|engineers?|drivers?|couriers?|doctors?|nurses?|patients?|applicants?|officers?|sales|support|directors?|auditors?|buyers?|sellers?|analysts?|owners?|secretar(?:y|ies)|cashiers?|pharmacists?|lab|system)\b`)

	gatewayPattern = regexp.MustCompile(`(?i)\b(if|whether|otherwise|else|either|decisions?|decides?|decided|depending|unless|gateways?|branch(?:es)?|conditions?|conditional(?:ly)?|parallel(?:ly)?|simultaneously|in case)\b`)

	eventPattern = regexp.MustCompile(`(?i)\b(starts?|started|ends?|ended|events?|triggers?|triggered|messages?|notif(?:y|ies|ied|ication)|signals?|receives?|received|sends?|emails?|errors?|cancel(?:s|led|lation)?)\b`)

	timerPattern = regexp.MustCompile(`(?i)\b(timers?|deadlines?|time-?outs?|wait(?:s|ing)?|daily|weekly|monthly|hourly|overdue|expire[sd]?|(?:after|within|every)\s+\d+\s*(?:minutes?|hours?|days?|weeks?|months?))\b`)

	loopPattern = regexp.MustCompile(`(?i)\b(loops?|repeats?|repeated|retry|retries|until|again|iterate[sd]?|for each|resubmit(?:s|ted)?|rework)\b`)

	swimlanePattern = regexp.MustCompile(`(?i)\b(swim-?lanes?|lanes?|pools?|participants?|responsib(?:le|ility))\b`)

	subprocessPattern = regexp.MustCompile(`(?i)\b(sub-?process(?:es)?|sub-?routines?|call activit(?:y|ies)|nested|phases?|stages?)\b`)

	routingPattern = regexp.MustCompile(`(?i)\b(route[sd]?|routing|forward(?:s|ed)?|escalate[sd]?|escalation|hands? (?:over|off)|assign(?:s|ed)?|dispatch(?:es|ed)?|transfer(?:s|red)?|redirect(?:s|ed)?)\b`)

	stepSeparators = regexp.MustCompile(`[.;,\n]+|\bthen\b|\band\b`)
)

// Count tallies every signal family in text.
func Count(text string) models.SignalCounts {
	return models.SignalCounts{
		Actors:       countDistinct(actorPattern, text),
		Gateways:     len(gatewayPattern.FindAllStringIndex(text, -1)),
		Events:       len(eventPattern.FindAllStringIndex(text, -1)),
		Timers:       len(timerPattern.FindAllStringIndex(text, -1)),
		Loops:        len(loopPattern.FindAllStringIndex(text, -1)),
		Swimlanes:    len(swimlanePattern.FindAllStringIndex(text, -1)),
		Subprocesses: len(subprocessPattern.FindAllStringIndex(text, -1)),
		Routing:      len(routingPattern.FindAllStringIndex(text, -1)),
	}
}

func countDistinct(p *regexp.Regexp, text string) int {
	seen := make(map[string]struct{})
	for _, m := range p.FindAllString(text, -1) {
		seen[singular(strings.ToLower(m))] = struct{}{}
	}
	return len(seen)
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies"):
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 3:
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// actorNames returns the distinct actor mentions in first-seen order.
func actorNames(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range actorPattern.FindAllString(text, -1) {
		key := singular(strings.ToLower(m))
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, key)
	}
	return names
}

// countSteps approximates the number of activities described.
func countSteps(text string) int {
	n := 0
	for _, part := range stepSeparators.Split(text, -1) {
		if len(strings.Fields(part)) >= 2 {
			n++
		}
	}
	return n
}
