package annotation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// MaxPauseMs caps the pause a directive may request.
const MaxPauseMs = 10000

// Result is the outcome of parsing generated text.
type Result struct {
	CleanText      string
	LeadingEmotion *models.EmotionLabel
	Directives     []models.Directive
	// Anomalies lists malformed markers and attributes that were dropped.
	Anomalies []string
}

// LastEmotion returns the emotion of the last directive that carries one.
func (r Result) LastEmotion() *models.EmotionLabel {
	for i := len(r.Directives) - 1; i >= 0; i-- {
		if r.Directives[i].Emotion != nil {
			return r.Directives[i].Emotion
		}
	}
	return nil
}

// LastPause returns the pause of the last directive that carries one.
func (r Result) LastPause() *int {
	for i := len(r.Directives) - 1; i >= 0; i-- {
		if r.Directives[i].PauseMs != nil {
			return r.Directives[i].PauseMs
		}
	}
	return nil
}

// LastSpeed returns the speed of the last directive that carries one.
func (r Result) LastSpeed() string {
	for i := len(r.Directives) - 1; i >= 0; i-- {
		if r.Directives[i].Speed != "" {
			return r.Directives[i].Speed
		}
	}
	return ""
}

type markerKind int

const (
	markerEmotionTag markerKind = iota
	markerDirective
	markerResidue
)

type pattern struct {
	name string
	re   *regexp.Regexp
	kind markerKind
}

var (
	leadingEmotionRe = regexp.MustCompile(`(?i)^\s*\[\s*emotion\s*:\s*([^\]]*)\]`)

	// Applied in order. Each pattern only sees the text left by the ones
	// before it.
	patterns = []pattern{
		{"emotion tag", regexp.MustCompile(`(?i)\[\s*emotion\s*:[^\]]*\]`), markerEmotionTag},
		{"eom double", regexp.MustCompile(`(?i)<\s*EOM\s*::([^>]*)>`), markerDirective},
		{"eom single", regexp.MustCompile(`(?i)<\s*EOM\s*:([^>]*)>`), markerDirective},
		{"eom bare", regexp.MustCompile(`(?i)<\s*EOM\b([^>]*)>`), markerDirective},
		{"eom bracket", regexp.MustCompile(`(?i)\[\s*EOM\b:*([^\]]*)\]`), markerDirective},
		{"truncated eom", regexp.MustCompile(`(?i)<\s*EOM[^>\n]*$`), markerResidue},
		{"truncated eom bracket", regexp.MustCompile(`(?i)\[\s*EOM[^\]\n]*$`), markerResidue},
		{"unclosed emotion tag", regexp.MustCompile(`(?i)\[\s*emotion\s*:\s*[\w-]*`), markerResidue},
	}

	attrRe = regexp.MustCompile(`(?i)\b(pause|speed|emotion)\s*=\s*("[^"]*"|'[^']*'|[^\s>\],]*)`)

	residueRe = regexp.MustCompile(`(?i)\[\s*emotion\s*:|<\s*/?\s*EOM|\[\s*EOM|EOM::`)
	stripRe   = regexp.MustCompile(`(?i)<\s*/?\s*EOM[^>\n]{0,120}>?|\[\s*(?:emotion\s*:|EOM)[^\]\n]{0,120}\]?|EOM::\S*`)

	horizontalSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	lineEdgeSpaceRe   = regexp.MustCompile(` *\n *`)
	manyNewlinesRe    = regexp.MustCompile(`\n{3,}`)
)

var speedAliases = map[string]string{
	"slow":    "slow",
	"slowly":  "slow",
	"gentle":  "slow",
	"soft":    "slow",
	"normal":  "normal",
	"medium":  "normal",
	"natural": "normal",
	"fast":    "fast",
	"quick":   "fast",
	"quickly": "fast",
	"rapid":   "fast",
}

// Parser strips control annotations from generated text.
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a parser that reports anomalies to logger.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

type located struct {
	pos       int
	directive models.Directive
}

// Parse removes every recognized annotation from raw and returns what they
// carried. Malformed markers are dropped and reported in Anomalies, never
// returned as errors.
func (p *Parser) Parse(raw string) Result {
	var res Result
	text := raw

	if m := leadingEmotionRe.FindStringSubmatchIndex(text); m != nil {
		value := text[m[2]:m[3]]
		if label, ok := models.ParseEmotionLabel(value); ok {
			res.LeadingEmotion = &label
		} else {
			res.Anomalies = append(res.Anomalies, "unknown leading emotion "+strconv.Quote(value))
		}
		text = text[:m[0]] + text[m[1]:]
	}

	var found []located
	for _, pt := range patterns {
		text = replaceAllIndexed(pt.re, text, func(match []int, offset int) {
			switch pt.kind {
			case markerDirective:
				d, anomalies := parseAttributes(text[match[2]:match[3]])
				found = append(found, located{pos: offset, directive: d})
				res.Anomalies = append(res.Anomalies, anomalies...)
			case markerResidue:
				res.Anomalies = append(res.Anomalies, pt.name+" "+strconv.Quote(text[match[0]:match[1]]))
			}
		})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	for _, f := range found {
		res.Directives = append(res.Directives, f.directive)
	}

	text = collapseWhitespace(text)
	for attempt := 0; attempt < 3; attempt++ {
		leftovers := Verify(text)
		if len(leftovers) == 0 {
			break
		}
		res.Anomalies = append(res.Anomalies, "residual markers "+strings.Join(leftovers, ", "))
		text = collapseWhitespace(stripRe.ReplaceAllString(text, " "))
	}
	res.CleanText = text

	if len(res.Anomalies) > 0 {
		p.logger.Debug("Discarded malformed annotations",
			zap.Strings("anomalies", res.Anomalies),
			zap.Int("directives", len(res.Directives)))
	}

	return res
}

// Verify returns the control markers still present in text. A clean text
// yields nil.
func Verify(text string) []string {
	return residueRe.FindAllString(text, -1)
}

// replaceAllIndexed removes every match of re from text, calling visit with
// the submatch indexes (relative to text) and the match position in the
// result.
func replaceAllIndexed(re *regexp.Regexp, text string, visit func(match []int, offset int)) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		visit(m, b.Len())
		b.WriteByte(' ')
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func parseAttributes(attrs string) (models.Directive, []string) {
	var d models.Directive
	var anomalies []string

	for _, m := range attrRe.FindAllStringSubmatch(attrs, -1) {
		key, value := strings.ToLower(m[1]), strings.Trim(strings.TrimSpace(m[2]), `"'`)
		switch key {
		case "pause":
			ms, err := strconv.Atoi(value)
			if err != nil {
				anomalies = append(anomalies, "invalid pause "+strconv.Quote(value))
				continue
			}
			ms = max(0, min(ms, MaxPauseMs))
			d.PauseMs = &ms
		case "speed":
			speed, ok := speedAliases[strings.ToLower(value)]
			if !ok {
				anomalies = append(anomalies, "invalid speed "+strconv.Quote(value))
				continue
			}
			d.Speed = speed
		case "emotion":
			label, ok := models.ParseEmotionLabel(value)
			if !ok {
				anomalies = append(anomalies, "invalid emotion "+strconv.Quote(value))
				continue
			}
			d.Emotion = &label
		}
	}

	return d, anomalies
}

func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = horizontalSpaceRe.ReplaceAllString(text, " ")
	text = lineEdgeSpaceRe.ReplaceAllString(text, "\n")
	text = manyNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
