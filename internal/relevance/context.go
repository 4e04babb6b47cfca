package relevance

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/tidwall/sjson"
)

const (
	// DefaultMaxPerSection caps every scored section.
	DefaultMaxPerSection = 5
	// DefaultFallbackTechnologies caps the technologies list in the fallback summary.
	DefaultFallbackTechnologies = 15
)

// DefaultTriggerPhrases force inclusion of the full technologies list when any
// of them appears in the lowercased question.
var DefaultTriggerPhrases = []string{
	"skill", "tech", "tool", "stack", "technology", "technologies",
	"aws", "azure", "service", "work with", "use", "know",
}

// Scored pairs a knowledgebase entry with its relevance score for one query.
type Scored[T knowledgebase.Entry] struct {
	Entry T
	Score int
}

// Rank scores items, drops zero scores, and returns at most limit entries in
// descending score order. Ties keep knowledgebase order.
func Rank[T knowledgebase.Entry](items []T, keywords KeywordSet, limit int) []Scored[T] {
	var hits []Scored[T]
	for _, item := range items {
		if score := ScoreRelevance(item, keywords); score > 0 {
			hits = append(hits, Scored[T]{Entry: item, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func entriesOf[T knowledgebase.Entry](hits []Scored[T]) ([]T, []int) {
	if len(hits) == 0 {
		return nil, nil
	}
	entries := make([]T, len(hits))
	scores := make([]int, len(hits))
	for i, h := range hits {
		entries[i] = h.Entry
		scores[i] = h.Score
	}
	return entries, scores
}

// ExperienceSummary is the reduced experience record used by the fallback summary.
type ExperienceSummary struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Period   string `json:"period"`
}

// Summary is the broad context emitted when nothing in the question matched.
type Summary struct {
	Technologies   []string
	Certifications []string
	Experiences    []ExperienceSummary
}

// Context is the filtered knowledgebase subset sent to the model for one question.
type Context struct {
	About          *knowledgebase.About
	Portfolio      []knowledgebase.Project
	Services       []knowledgebase.Service
	Certifications []knowledgebase.Certification
	Education      []knowledgebase.Education
	Experiences    []knowledgebase.Experience
	Technologies   []string

	// Summary is set when the fallback path was taken.
	Summary *Summary

	// Keywords is the keyword set the context was built from.
	Keywords KeywordSet
	// Scores holds the scores of the kept entries per scored section, in output order.
	Scores map[string][]int
}

// Fallback reports whether the broad summary was emitted.
func (c *Context) Fallback() bool {
	return c != nil && c.Summary != nil
}

// Keys returns the populated section names in serialization order.
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	var keys []string
	add := func(name string, populated bool) {
		if populated {
			keys = append(keys, name)
		}
	}
	add(knowledgebase.SectionAbout, c.About != nil)
	add(knowledgebase.SectionPortfolio, c.Portfolio != nil)
	if c.Summary != nil {
		add(knowledgebase.SectionCertifications, c.Summary.Certifications != nil)
		add(knowledgebase.SectionExperiences, c.Summary.Experiences != nil)
		add(knowledgebase.SectionTechnologies, c.Summary.Technologies != nil)
		return keys
	}
	add(knowledgebase.SectionServices, len(c.Services) > 0)
	add(knowledgebase.SectionCertifications, len(c.Certifications) > 0)
	add(knowledgebase.SectionEducation, len(c.Education) > 0)
	add(knowledgebase.SectionExperiences, len(c.Experiences) > 0)
	add(knowledgebase.SectionTechnologies, c.Technologies != nil)
	return keys
}

// Len returns the number of items under section, or 0 when it is absent.
func (c *Context) Len(section string) int {
	if c == nil {
		return 0
	}
	if c.Summary != nil {
		switch section {
		case knowledgebase.SectionCertifications:
			return len(c.Summary.Certifications)
		case knowledgebase.SectionExperiences:
			return len(c.Summary.Experiences)
		case knowledgebase.SectionTechnologies:
			return len(c.Summary.Technologies)
		}
	}
	switch section {
	case knowledgebase.SectionAbout:
		if c.About != nil {
			return 1
		}
	case knowledgebase.SectionPortfolio:
		return len(c.Portfolio)
	case knowledgebase.SectionServices:
		return len(c.Services)
	case knowledgebase.SectionCertifications:
		return len(c.Certifications)
	case knowledgebase.SectionEducation:
		return len(c.Education)
	case knowledgebase.SectionExperiences:
		return len(c.Experiences)
	case knowledgebase.SectionTechnologies:
		return len(c.Technologies)
	}
	return 0
}

// Serialize encodes the context as compact JSON, sections in Keys order.
func (c *Context) Serialize() (string, error) {
	out := []byte("{}")
	if c == nil {
		return string(out), nil
	}
	for _, key := range c.Keys() {
		raw, err := encodeRaw(c.section(key))
		if err != nil {
			return "", err
		}
		if out, err = sjson.SetRawBytes(out, key, raw); err != nil {
			return "", err
		}
	}
	return string(out), nil
}

// MarshalJSON implements json.Marshaler using Serialize.
func (c *Context) MarshalJSON() ([]byte, error) {
	s, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (c *Context) section(key string) any {
	if c.Summary != nil {
		switch key {
		case knowledgebase.SectionCertifications:
			return c.Summary.Certifications
		case knowledgebase.SectionExperiences:
			return c.Summary.Experiences
		case knowledgebase.SectionTechnologies:
			return c.Summary.Technologies
		}
	}
	switch key {
	case knowledgebase.SectionAbout:
		return c.About
	case knowledgebase.SectionPortfolio:
		return c.Portfolio
	case knowledgebase.SectionServices:
		return c.Services
	case knowledgebase.SectionCertifications:
		return c.Certifications
	case knowledgebase.SectionEducation:
		return c.Education
	case knowledgebase.SectionExperiences:
		return c.Experiences
	case knowledgebase.SectionTechnologies:
		return c.Technologies
	}
	return nil
}

func encodeRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Builder assembles contexts. The zero value is not usable; use NewBuilder.
type Builder struct {
	maxPerSection        int
	fallbackTechnologies int
	triggers             []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxPerSection overrides the per-section cap.
func WithMaxPerSection(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxPerSection = n
		}
	}
}

// WithFallbackTechnologies overrides how many technologies the fallback summary lists.
func WithFallbackTechnologies(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.fallbackTechnologies = n
		}
	}
}

// WithTriggerPhrases replaces the technologies trigger phrases.
func WithTriggerPhrases(phrases ...string) Option {
	return func(b *Builder) {
		if len(phrases) > 0 {
			b.triggers = append([]string(nil), phrases...)
		}
	}
}

// NewBuilder returns a Builder with the default caps and trigger phrases.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		maxPerSection:        DefaultMaxPerSection,
		fallbackTechnologies: DefaultFallbackTechnologies,
		triggers:             DefaultTriggerPhrases,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var defaultBuilder = NewBuilder()

// BuildContext builds a context with the default Builder.
func BuildContext(question string, kb *knowledgebase.Knowledgebase) *Context {
	return defaultBuilder.Build(question, kb)
}

// Build filters kb down to what is relevant for question.
//
// about and portfolio are copied verbatim. services, certifications, education
// and experiences are scored with one shared keyword set and capped. The full
// technologies list is added when the question contains a trigger phrase. If
// nothing beyond about and portfolio survived, or at most one section survived at
// all, a broad summary is emitted instead.
func (b *Builder) Build(question string, kb *knowledgebase.Knowledgebase) *Context {
	keywords := ExtractKeywords(question)
	ctx := &Context{Keywords: keywords, Scores: make(map[string][]int)}
	if kb == nil {
		return ctx
	}

	ctx.About = kb.About
	ctx.Portfolio = kb.Portfolio

	var scores []int
	ctx.Services, scores = entriesOf(Rank(kb.Services, keywords, b.maxPerSection))
	b.recordScores(ctx, knowledgebase.SectionServices, scores)
	ctx.Certifications, scores = entriesOf(Rank(kb.Certifications, keywords, b.maxPerSection))
	b.recordScores(ctx, knowledgebase.SectionCertifications, scores)
	ctx.Education, scores = entriesOf(Rank(kb.Education, keywords, b.maxPerSection))
	b.recordScores(ctx, knowledgebase.SectionEducation, scores)
	ctx.Experiences, scores = entriesOf(Rank(kb.Experiences, keywords, b.maxPerSection))
	b.recordScores(ctx, knowledgebase.SectionExperiences, scores)

	if tools := kb.Tools(); tools != nil && b.triggered(question) {
		ctx.Technologies = append([]string{}, tools...)
	}

	// A single surviving section is too thin to ground an answer, even when it
	// was scored because about and portfolio are missing.
	if (len(ctx.Scores) == 0 && ctx.Technologies == nil) || len(ctx.Keys()) <= 1 {
		ctx.Summary = b.summarize(kb)
	}
	return ctx
}

func (b *Builder) recordScores(ctx *Context, section string, scores []int) {
	if len(scores) > 0 {
		ctx.Scores[section] = scores
	}
}

func (b *Builder) triggered(question string) bool {
	lower := strings.ToLower(question)
	for _, phrase := range b.triggers {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (b *Builder) summarize(kb *knowledgebase.Knowledgebase) *Summary {
	summary := &Summary{}
	if tools := kb.Tools(); len(tools) > 0 {
		n := min(len(tools), b.fallbackTechnologies)
		summary.Technologies = append([]string{}, tools[:n]...)
	}
	if len(kb.Certifications) > 0 {
		summary.Certifications = make([]string, len(kb.Certifications))
		for i, c := range kb.Certifications {
			summary.Certifications[i] = c.Certification
		}
	}
	if len(kb.Experiences) > 0 {
		summary.Experiences = make([]ExperienceSummary, len(kb.Experiences))
		for i, e := range kb.Experiences {
			summary.Experiences[i] = ExperienceSummary{Company: e.Company, Position: e.Position, Period: e.Period}
		}
	}
	return summary
}
