// Package format implements the Formatter (spec §4.H): packs scored
// ContextItems into a token-budgeted, human-readable block under a
// single "## Focus Context" heading. Pure and deterministic.
package format

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nathanasimon/memoryd/internal/retrieve"
)

// DefaultBudget is the default token budget B when the caller does not
// override it.
const DefaultBudget = 1500

// kindOrder fixes the group order in the rendered output: Focus, Conv,
// Task, Commitment, Skill, Error.
var kindOrder = []retrieve.Kind{
	retrieve.KindFocus,
	retrieve.KindConversation,
	retrieve.KindTask,
	retrieve.KindCommitment,
	retrieve.KindSkill,
	retrieve.KindError,
}

var kindHeader = map[retrieve.Kind]string{
	retrieve.KindFocus:        "Focus",
	retrieve.KindConversation: "Conv",
	retrieve.KindTask:         "Task",
	retrieve.KindCommitment:   "Commitment",
	retrieve.KindSkill:        "Skill",
	retrieve.KindError:        "Error",
}

// estimateTokens is deliberately conservative: ceil(chars/4).
func estimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4.0))
}

// Format sorts items by descending score (stable), greedily packs them
// within budget tokens, groups accepted items by kind under fixed
// headers, and renders the result under a single heading. Returns an
// empty string if nothing was accepted.
func Format(items []retrieve.ContextItem, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}

	sorted := make([]retrieve.ContextItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	rendered := make([]string, len(sorted))
	tokens := make([]int, len(sorted))
	for i, it := range sorted {
		rendered[i] = renderItem(it)
		tokens[i] = estimateTokens(rendered[i])
	}

	accepted := make(map[retrieve.Kind][]string)
	used := 0
	anyAccepted := false

	for i, it := range sorted {
		if used+tokens[i] > budget {
			continue
		}
		accepted[it.Kind] = append(accepted[it.Kind], rendered[i])
		used += tokens[i]
		anyAccepted = true
	}

	if !anyAccepted {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Focus Context\n")
	for _, kind := range kindOrder {
		lines, ok := accepted[kind]
		if !ok {
			continue
		}
		b.WriteString("\n### " + kindHeader[kind] + "\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderItem produces an item's single-line form, plus an optional body
// line: "[<Kind>] <title>[ — <qualifier>][ (<age>)]".
func renderItem(it retrieve.ContextItem) string {
	var b strings.Builder
	b.WriteString("[" + kindHeader[it.Kind] + "] " + it.Title)

	if q := qualifier(it); q != "" {
		b.WriteString(" — " + q)
	}
	if !it.Recency.IsZero() {
		b.WriteString(" (" + age(it.Recency) + ")")
	}
	if it.Body != "" {
		b.WriteString("\n" + it.Body)
	}
	return b.String()
}

func qualifier(it retrieve.ContextItem) string {
	switch it.Kind {
	case retrieve.KindTask:
		return it.Metadata["status"]
	case retrieve.KindCommitment:
		return it.Metadata["direction"]
	case retrieve.KindFocus:
		return it.Metadata["tier"]
	default:
		return ""
	}
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
