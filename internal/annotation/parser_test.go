package annotation

import (
	"testing"

	"companion-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func labelPtr(l models.EmotionLabel) *models.EmotionLabel { return &l }

func TestParseScenario(t *testing.T) {
	p := NewParser(nil)
	res := p.Parse("[emotion: intimate] I feel close to you... <EOM::pause=2000 speed=slow emotion=intimate>")

	assert.Equal(t, "I feel close to you...", res.CleanText)
	require.NotNil(t, res.LeadingEmotion)
	assert.Equal(t, models.EmotionIntimate, *res.LeadingEmotion)
	require.Len(t, res.Directives, 1)
	assert.Equal(t, models.Directive{
		PauseMs: intPtr(2000),
		Speed:   "slow",
		Emotion: labelPtr(models.EmotionIntimate),
	}, res.Directives[0])
	assert.Empty(t, res.Anomalies)
}

func TestParseForms(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		clean     string
		leading   *models.EmotionLabel
		directive []models.Directive
	}{
		{
			name:  "plain text untouched",
			raw:   "Hey you. How was your day?",
			clean: "Hey you. How was your day?",
		},
		{
			name:      "single delimiter",
			raw:       "Sleep well <EOM:pause=800 speed=fast emotion=playful>",
			clean:     "Sleep well",
			directive: []models.Directive{{PauseMs: intPtr(800), Speed: "fast", Emotion: labelPtr(models.EmotionPlayful)}},
		},
		{
			name:      "bare marker",
			raw:       "Okay!<EOM>",
			clean:     "Okay!",
			directive: []models.Directive{{}},
		},
		{
			name:      "bare marker with attributes",
			raw:       "Okay! <EOM pause=300>",
			clean:     "Okay!",
			directive: []models.Directive{{PauseMs: intPtr(300)}},
		},
		{
			name:      "bracket form",
			raw:       "Miss me? [EOM:pause=1500 emotion=flirty]",
			clean:     "Miss me?",
			directive: []models.Directive{{PauseMs: intPtr(1500), Emotion: labelPtr(models.EmotionFlirty)}},
		},
		{
			name:      "lowercase and extra spaces",
			raw:       "[ Emotion : Playful ]  lol   ok < eom :: speed=quick >",
			clean:     "lol ok",
			leading:   labelPtr(models.EmotionPlayful),
			directive: []models.Directive{{Speed: "fast"}},
		},
		{
			name:  "inner emotion tag",
			raw:   "I was thinking [emotion: sad] about you",
			clean: "I was thinking about you",
		},
		{
			name:  "multiple directives keep order",
			raw:   "First <EOM::pause=100> || Second <EOM:pause=200>",
			clean: "First || Second",
			directive: []models.Directive{
				{PauseMs: intPtr(100)},
				{PauseMs: intPtr(200)},
			},
		},
		{
			name:  "line breaks survive",
			raw:   "Line one\n\n\n\nLine two  \n  three",
			clean: "Line one\n\nLine two\nthree",
		},
	}

	p := NewParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.raw)
			assert.Equal(t, tt.clean, res.CleanText)
			assert.Equal(t, tt.leading, res.LeadingEmotion)
			assert.Equal(t, tt.directive, res.Directives)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	p := NewParser(nil)

	tests := []struct {
		name      string
		raw       string
		clean     string
		directive models.Directive
	}{
		{"non numeric pause", "Hi <EOM::pause=abc speed=slow>", "Hi", models.Directive{Speed: "slow"}},
		{"empty emotion", "Hi <EOM::emotion=>", "Hi", models.Directive{}},
		{"unknown speed", "Hi <EOM::speed=invalid>", "Hi", models.Directive{}},
		{"unknown emotion", "Hi <EOM:emotion=melancholy>", "Hi", models.Directive{}},
		{"empty double", "Hi <EOM::>", "Hi", models.Directive{}},
		{"huge pause clamped", "Hi <EOM::pause=999999>", "Hi", models.Directive{PauseMs: intPtr(MaxPauseMs)}},
		{"negative pause clamped", "Hi <EOM::pause=-40>", "Hi", models.Directive{PauseMs: intPtr(0)}},
		{"double quoted values", `Hi <EOM::pause="300" speed="slow">`, "Hi", models.Directive{PauseMs: intPtr(300), Speed: "slow"}},
		{"single quoted emotion", "Hi <EOM:emotion='sad'>", "Hi", models.Directive{Emotion: labelPtr(models.EmotionSad)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.raw)
			assert.Equal(t, tt.clean, res.CleanText)
			require.Len(t, res.Directives, 1)
			assert.Equal(t, tt.directive, res.Directives[0])
		})
	}

	t.Run("unknown leading emotion", func(t *testing.T) {
		res := p.Parse("[emotion: smug] whatever")
		assert.Equal(t, "whatever", res.CleanText)
		assert.Nil(t, res.LeadingEmotion)
		assert.NotEmpty(t, res.Anomalies)
	})

	t.Run("truncated directive", func(t *testing.T) {
		res := p.Parse("Good night <EOM::pause=20")
		assert.Equal(t, "Good night", res.CleanText)
		assert.Empty(t, res.Directives)
		assert.NotEmpty(t, res.Anomalies)
	})

	t.Run("unclosed emotion tag", func(t *testing.T) {
		res := p.Parse("[emotion: happy I missed you")
		assert.Equal(t, "I missed you", res.CleanText)
	})

	t.Run("bracketed words are not tags", func(t *testing.T) {
		for _, raw := range []string{
			"I'm feeling so [emotional] today",
			"Hey [emotions run high] tonight",
			"[emotion] is a big word",
		} {
			res := p.Parse(raw)
			assert.Equal(t, raw, res.CleanText)
			assert.Empty(t, res.Anomalies, raw)
		}
	})

	t.Run("stray markers", func(t *testing.T) {
		res := p.Parse("Hello </EOM> there EOM::x")
		assert.Equal(t, "Hello there", res.CleanText)
		assert.Empty(t, Verify(res.CleanText))
	})
}

func TestParseCleanAndIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"[emotion: intimate] I feel close to you... <EOM::pause=2000 speed=slow emotion=intimate>",
		"[emotion:flirty][emotion:playful] double <EOM><EOM::pause=1>",
		"<EOM::pause=1><EOM:speed=slow>[EOM]",
		"nested <EOM <EOM::pause=5>> text",
		"[EOM:pause=12 trailing",
		"text with [emotional baggage] inside",
		"unicode 💭 stays [emotion: sad] 💭",
		"<eom::EMOTION=Excited>Yay!",
		"[[emotion: sad]]",
	}

	p := NewParser(nil)
	for _, raw := range inputs {
		first := p.Parse(raw)
		assert.Empty(t, Verify(first.CleanText), "raw=%q clean=%q", raw, first.CleanText)

		second := p.Parse(first.CleanText)
		assert.Equal(t, first.CleanText, second.CleanText, "raw=%q", raw)
		assert.Empty(t, second.Directives, "raw=%q", raw)
		assert.Nil(t, second.LeadingEmotion, "raw=%q", raw)
	}
}

func TestVerify(t *testing.T) {
	assert.Empty(t, Verify("All clear here..."))
	assert.Equal(t, []string{"<EOM", "[emotion:"}, Verify("x <EOM y [emotion:"))
	assert.Empty(t, Verify("so [emotional] today"))
	assert.Len(t, Verify("EOM::pause [EOM"), 2)
}

func TestResultAccessors(t *testing.T) {
	res := NewParser(nil).Parse("a <EOM::pause=100 emotion=sad> b <EOM::speed=fast> c <EOM::pause=300>")
	require.NotNil(t, res.LastPause())
	assert.Equal(t, 300, *res.LastPause())
	require.NotNil(t, res.LastEmotion())
	assert.Equal(t, models.EmotionSad, *res.LastEmotion())
	assert.Equal(t, "fast", res.LastSpeed())
	assert.Equal(t, "a b c", res.CleanText)
}
