package segmenter

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"companion-service/internal/models"
)

// Options holds the pacing constants of the segmenter.
type Options struct {
	// MinSpacing is the minimum distance in runes between two accepted
	// non-manual split points.
	MinSpacing int `yaml:"min_spacing"`

	TypingFloorMs   int `yaml:"typing_floor_ms"`
	TypingCeilingMs int `yaml:"typing_ceiling_ms"`
	DelayFloorMs    int `yaml:"delay_floor_ms"`

	PunctuationPauseMs int `yaml:"punctuation_pause_ms"`
	QuestionPauseMs    int `yaml:"question_pause_ms"`

	QuestionBonusMs    int `yaml:"question_bonus_ms"`
	EllipsisBonusMs    int `yaml:"ellipsis_bonus_ms"`
	ExclaimReductionMs int `yaml:"exclaim_reduction_ms"`
}

// DefaultOptions returns the standard pacing.
func DefaultOptions() Options {
	return Options{
		MinSpacing:         20,
		TypingFloorMs:      400,
		TypingCeilingMs:    6000,
		DelayFloorMs:       200,
		PunctuationPauseMs: 200,
		QuestionPauseMs:    400,
		QuestionBonusMs:    300,
		EllipsisBonusMs:    500,
		ExclaimReductionMs: 100,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&o.MinSpacing, def.MinSpacing)
	fill(&o.TypingFloorMs, def.TypingFloorMs)
	fill(&o.TypingCeilingMs, def.TypingCeilingMs)
	fill(&o.DelayFloorMs, def.DelayFloorMs)
	fill(&o.PunctuationPauseMs, def.PunctuationPauseMs)
	fill(&o.QuestionPauseMs, def.QuestionPauseMs)
	fill(&o.QuestionBonusMs, def.QuestionBonusMs)
	fill(&o.EllipsisBonusMs, def.EllipsisBonusMs)
	fill(&o.ExclaimReductionMs, def.ExclaimReductionMs)
	if o.TypingCeilingMs < o.TypingFloorMs {
		o.TypingCeilingMs = o.TypingFloorMs
	}
	return o
}

// Placeholder is the text of the single fragment produced when nothing but
// whitespace and delimiters is left.
const Placeholder = "…"

// Split point classes, highest priority first.
const (
	priorityManual = iota
	prioritySentence
	priorityParagraph
	priorityEllipsis
)

var (
	manualRe    = regexp.MustCompile(`\|\||~~~`)
	sentenceRe  = regexp.MustCompile(`([.!?]+)\s+\p{Lu}`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
	ellipsisRe  = regexp.MustCompile(`\.{3,}|…+`)
)

// candidate is a split point. Text before start closes the current
// segment, the next one begins at end.
type candidate struct {
	start, end int
	priority   int
}

// Segmenter splits clean text into timed fragments.
type Segmenter struct {
	opts Options
}

// New creates a segmenter. Zero option fields take their defaults.
func New(opts Options) *Segmenter {
	return &Segmenter{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (s *Segmenter) Options() Options {
	return s.opts
}

// Segment splits text into at least one fragment. Only the last one is
// final. The result depends on nothing but the arguments.
func (s *Segmenter) Segment(text string, emotion models.EmotionLabel) []models.MessageFragment {
	if !emotion.IsValid() {
		emotion = models.EmotionNeutral
	}

	var parts []string
	for _, part := range s.split(text) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		parts = []string{Placeholder}
	}

	fragments := make([]models.MessageFragment, len(parts))
	for i, part := range parts {
		fragments[i] = models.MessageFragment{
			Text:             part,
			InterDelayMs:     s.InterDelay(part, emotion),
			TypingDurationMs: s.TypingDuration(part, emotion),
			Emotion:          emotion,
			IsFinal:          i == len(parts)-1,
		}
	}
	return fragments
}

func (s *Segmenter) split(text string) []string {
	cuts := s.accept(text, collect(text))
	if len(cuts) == 0 {
		return []string{text}
	}

	parts := make([]string, 0, len(cuts)+1)
	last := 0
	for _, c := range cuts {
		if c.start < last {
			continue
		}
		parts = append(parts, text[last:c.start])
		last = c.end
	}
	return append(parts, text[last:])
}

// collect finds every split point, keeping the highest priority one when
// several classes agree on a position.
func collect(text string) []candidate {
	byPos := make(map[int]candidate)
	add := func(c candidate) {
		if c.priority != priorityManual && (c.start <= 0 || c.start >= len(text)) {
			return
		}
		if prev, ok := byPos[c.start]; ok && prev.priority <= c.priority {
			return
		}
		byPos[c.start] = c
	}

	for _, m := range manualRe.FindAllStringIndex(text, -1) {
		add(candidate{start: m[0], end: m[1], priority: priorityManual})
	}
	for _, m := range sentenceRe.FindAllStringSubmatchIndex(text, -1) {
		add(candidate{start: m[3], end: m[3], priority: prioritySentence})
	}
	for _, m := range paragraphRe.FindAllStringIndex(text, -1) {
		add(candidate{start: m[0], end: m[1], priority: priorityParagraph})
	}
	for _, m := range ellipsisRe.FindAllStringIndex(text, -1) {
		if strings.TrimSpace(text[m[1]:]) == "" {
			continue
		}
		add(candidate{start: m[1], end: m[1], priority: priorityEllipsis})
	}

	out := make([]candidate, 0, len(byPos))
	for _, c := range byPos {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// accept applies the spacing rule. Classes are considered in priority
// order so a sentence end claims its slot before a nearby ellipsis. Manual
// delimiters are always kept, as is the first point of an empty set.
func (s *Segmenter) accept(text string, cands []candidate) []candidate {
	var accepted []candidate
	for priority := priorityManual; priority <= priorityEllipsis; priority++ {
		for _, c := range cands {
			if c.priority != priority {
				continue
			}
			if priority == priorityManual || len(accepted) == 0 || s.farEnough(text, c, accepted) {
				accepted = append(accepted, c)
			}
		}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

// farEnough reports whether c is at least MinSpacing runes away from every
// accepted point.
func (s *Segmenter) farEnough(text string, c candidate, accepted []candidate) bool {
	for _, a := range accepted {
		lo, hi := min(a.start, c.start), max(a.start, c.start)
		if utf8.RuneCountInString(text[lo:hi]) < s.opts.MinSpacing {
			return false
		}
	}
	return true
}

// TypingDuration estimates how long typing the fragment takes.
func (s *Segmenter) TypingDuration(text string, emotion models.EmotionLabel) int {
	ms := utf8.RuneCountInString(text) * emotion.Profile().PerCharMs
	ms += strings.Count(text, "?") * s.opts.QuestionPauseMs
	for _, r := range text {
		switch r {
		case ',', '.', ';', ':':
			ms += s.opts.PunctuationPauseMs
		}
	}
	return clampInt(ms, s.opts.TypingFloorMs, s.opts.TypingCeilingMs)
}

// InterDelay is the pause before typing of the fragment starts.
func (s *Segmenter) InterDelay(text string, emotion models.EmotionLabel) int {
	ms := emotion.Profile().BaseDelayMs
	if strings.HasSuffix(text, "?") {
		ms += s.opts.QuestionBonusMs
	}
	if strings.Contains(text, "...") || strings.Contains(text, "…") {
		ms += s.opts.EllipsisBonusMs
	}
	if strings.HasSuffix(text, "!") {
		ms -= s.opts.ExclaimReductionMs
	}
	return max(ms, s.opts.DelayFloorMs)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
