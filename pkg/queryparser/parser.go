// Package queryparser extracts structured search intent from free-text
// queries. The rule-based parser here is the always-available fallback; an
// LLM-backed implementation can be swapped in behind the same interface.
// The parser is advisory: empty output means "treat the whole text as
// keywords", and feed engines must tolerate a nil parser.
package queryparser

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/paperscroll/backend/internal/domain"
)

// Parser converts free text into {keywords, authors, years, institutions}.
type Parser interface {
	Parse(ctx context.Context, text string) (*domain.ParsedQuery, error)
}

// RuleParser is a deterministic parser built on capitalization heuristics,
// digit runs, and a known-institution lexicon.
type RuleParser struct{}

var _ Parser = (*RuleParser)(nil)

func NewRuleParser() *RuleParser { return &RuleParser{} }

var (
	// "machine learning by John Smith", "papers from Jane Doe"
	authorMarkerRe = regexp.MustCompile(`(?i)\b(?:by|from|authored by)\s+`)

	// First Last, optionally with a middle initial or third name part.
	authorNameRe = regexp.MustCompile(`^[A-Z][a-z]+(?:\s+[A-Z]\.)?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?$`)

	yearRangeRe  = regexp.MustCompile(`\b(19|20)\d{2}\s*-\s*(19|20)\d{2}\b`)
	yearSingleRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	yearAfterRe  = regexp.MustCompile(`(?i)\b(?:after|since|from)\s+((?:19|20)\d{2})\b`)
	yearBeforeRe = regexp.MustCompile(`(?i)\b(?:before|until|up to)\s+((?:19|20)\d{2})\b`)

	fillerRe = regexp.MustCompile(`(?i)\b(?:papers?|research|articles?|studies?|work)\s+(?:about|on|regarding|in)\s+`)
)

// Capitalized multi-word phrases that are subjects, not people.
var keywordPhrases = []string{
	"machine", "deep", "neural", "artificial", "quantum", "statistical",
	"learning", "network", "networks", "computing", "intelligence", "analysis",
}

// Institutions commonly written as bare names in queries.
var institutionLexicon = []string{
	"MIT", "Stanford", "Harvard", "Berkeley", "Oxford", "Cambridge",
	"Caltech", "Princeton", "ETH Zurich", "Carnegie Mellon", "DeepMind",
	"Max Planck", "CERN", "NIH", "Tsinghua",
}

// Parse never returns an error; the signature carries one so LLM-backed
// implementations can.
func (p *RuleParser) Parse(_ context.Context, text string) (*domain.ParsedQuery, error) {
	out := &domain.ParsedQuery{}
	text = strings.TrimSpace(text)
	if text == "" {
		return out, nil
	}

	text, out.Years = extractYears(text)
	text, out.Institutions = extractInstitutions(text)

	if loc := authorMarkerRe.FindStringIndex(text); loc != nil {
		before := strings.TrimSpace(text[:loc[0]])
		after := strings.TrimSpace(text[loc[1]:])

		out.Authors = splitNames(after)
		if before != "" {
			out.Keywords = splitKeywords(stripFiller(before))
		}
		return out, nil
	}

	// No explicit marker: pull out capitalized name-shaped phrases and
	// treat the rest as keywords.
	remaining := text
	for _, candidate := range splitNames(text) {
		if looksLikeAuthor(candidate) {
			out.Authors = append(out.Authors, candidate)
			remaining = strings.Replace(remaining, candidate, "", 1)
		}
	}
	remaining = strings.TrimSpace(strings.Trim(stripFiller(remaining), " ,"))
	if remaining != "" {
		out.Keywords = splitKeywords(remaining)
	}
	return out, nil
}

func stripFiller(s string) string {
	return strings.TrimSpace(fillerRe.ReplaceAllString(s, ""))
}

// splitNames splits on commas, "and", and "&".
func splitNames(s string) []string {
	s = regexp.MustCompile(`(?i)\s+and\s+`).ReplaceAllString(s, ", ")
	s = strings.ReplaceAll(s, " & ", ", ")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitKeywords(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		part = strings.Join(strings.Fields(part), " ")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// looksLikeAuthor distinguishes "Michael J. Iadarola" from "Machine
// Learning": name-shaped capitalization without subject-matter words.
func looksLikeAuthor(s string) bool {
	if !authorNameRe.MatchString(s) {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range keywordPhrases {
		for _, word := range strings.Fields(lower) {
			if word == kw {
				return false
			}
		}
	}
	return true
}

func extractYears(text string) (string, []string) {
	var years []string

	for _, m := range yearAfterRe.FindAllStringSubmatch(text, -1) {
		years = append(years, ">"+m[1])
	}
	text = yearAfterRe.ReplaceAllString(text, "")

	for _, m := range yearBeforeRe.FindAllStringSubmatch(text, -1) {
		years = append(years, "<"+m[1])
	}
	text = yearBeforeRe.ReplaceAllString(text, "")

	for _, m := range yearRangeRe.FindAllString(text, -1) {
		years = append(years, strings.Join(strings.Fields(strings.ReplaceAll(m, " ", "")), ""))
	}
	text = yearRangeRe.ReplaceAllString(text, "")

	for _, m := range yearSingleRe.FindAllString(text, -1) {
		if y, err := strconv.Atoi(m); err == nil && y >= 1900 && y <= 2100 {
			years = append(years, m)
		}
	}
	text = yearSingleRe.ReplaceAllString(text, "")

	return strings.TrimSpace(strings.Trim(text, " ,")), years
}

var danglingPrepRe = regexp.MustCompile(`(?i)\s+(?:at|in|from)\s*$`)

func extractInstitutions(text string) (string, []string) {
	var insts []string
	for _, inst := range institutionLexicon {
		if idx := indexFold(text, inst); idx >= 0 {
			insts = append(insts, inst)
			text = text[:idx] + text[idx+len(inst):]
		}
	}
	if len(insts) > 0 {
		text = danglingPrepRe.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(strings.Trim(text, " ,")), insts
}

// indexFold is a case-insensitive, word-boundary-aware strings.Index.
func indexFold(s, substr string) int {
	ls, lsub := strings.ToLower(s), strings.ToLower(substr)
	start := 0
	for {
		i := strings.Index(ls[start:], lsub)
		if i < 0 {
			return -1
		}
		i += start
		beforeOK := i == 0 || !isWordChar(ls[i-1])
		end := i + len(lsub)
		afterOK := end == len(ls) || !isWordChar(ls[end])
		if beforeOK && afterOK {
			return i
		}
		start = i + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
