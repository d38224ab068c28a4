package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"omni-library/internal/domain"
)

const fixture = `{"text": "Hello \"traveler\", the shelves whisper ı.", "location": "STORY_WORLD", "book_title": "Dune", ` +
	`"inventory": ["lamp", "key"], "scene_image_prompt": "dusty library at dusk", "narrator_voice_tone": "Mysterious", ` +
	`"ambient_mood": "desert wind", "sfx_trigger": "page", ` +
	`"npc": {"name": "Ilsa", "expression": "wary", "intent": "guard the door"}}`

func requireRenderable(t *testing.T, u domain.StoryUpdate, input string) {
	t.Helper()
	require.NotEmpty(t, strings.TrimSpace(u.Narrative), "input=%q", input)
	require.NotNil(t, u.Inventory, "input=%q", input)
	require.NotEmpty(t, u.SceneImagePrompt, "input=%q", input)
	require.Contains(t, []domain.Location{domain.LocationLibrary, domain.LocationStoryWorld}, u.Location, "input=%q", input)
	if u.ActiveNPC != nil {
		require.NotEmpty(t, u.ActiveNPC.Name)
		require.NotEmpty(t, u.ActiveNPC.Expression)
		require.NotEmpty(t, u.ActiveNPC.Intent)
	}
}

func TestNormalize_FullFixture(t *testing.T) {
	r := Inspect(fixture)
	require.Equal(t, OutcomeParsed, r.Outcome)

	u := r.Update
	require.Equal(t, `Hello "traveler", the shelves whisper ı.`, u.Narrative)
	require.Equal(t, domain.LocationStoryWorld, u.Location)
	require.Equal(t, "Dune", u.BookTitle)
	require.Equal(t, []string{"lamp", "key"}, u.Inventory)
	require.Equal(t, "dusty library at dusk", u.SceneImagePrompt)
	require.Equal(t, "Mysterious", u.NarratorTone)
	require.Equal(t, "desert wind", u.AmbientMood)
	require.Equal(t, "page", u.SFXTrigger)
	require.Equal(t, &domain.NPC{Name: "Ilsa", Expression: "wary", Intent: "guard the door"}, u.ActiveNPC)
}

func TestNormalize_TotalOverEveryTruncation(t *testing.T) {
	textStart := strings.Index(fixture, "Hello")
	for i := 0; i <= len(fixture); i++ {
		input := fixture[:i]
		r := Inspect(input)
		requireRenderable(t, r.Update, input)
		if i > textStart {
			require.Contains(t, []Outcome{OutcomeParsed, OutcomeRepaired}, r.Outcome, "input=%q", input)
			require.True(t, strings.HasPrefix(r.Update.Narrative, "H"), "input=%q narrative=%q", input, r.Update.Narrative)
		}
	}
}

func TestNormalize_TotalOverGarbage(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not json at all",
		"}}}}",
		"{",
		"{{{{",
		"[1,2,3]",
		`{"text": }`,
		`{"text": "unterminated \`,
		`{"text": "bad escape \u12`,
		"```json\n```",
		`{"inventory": "sword"}`,
		`{"npc": "Bob"}`,
		`{"text": 42, "location": 7, "inventory": {"a": 1}}`,
		"\x00\xff\xfe",
	}
	for _, in := range inputs {
		requireRenderable(t, Normalize(in), in)
	}
}

func TestNormalize_EmptyObjectDefaults(t *testing.T) {
	u := Normalize("{}")
	require.Equal(t, domain.LocationLibrary, u.Location)
	require.Equal(t, []string{}, u.Inventory)
	require.Equal(t, DefaultScenePrompt, u.SceneImagePrompt)
	require.Nil(t, u.ActiveNPC)
	require.Equal(t, MissingNarrative, u.Narrative)
	require.Empty(t, u.BookTitle)
}

func TestNormalize_NoBraceUsesFallback(t *testing.T) {
	r := Inspect("The model apologised instead of answering.")
	require.Equal(t, OutcomeFallback, r.Outcome)
	require.Equal(t, FallbackNarrative, r.Update.Narrative)
	require.Equal(t, domain.LocationLibrary, r.Update.Location)
	require.Equal(t, []string{}, r.Update.Inventory)
	require.Equal(t, DefaultScenePrompt, r.Update.SceneImagePrompt)
	require.Nil(t, r.Update.ActiveNPC)
}

func TestNormalize_BraceInsideStringDoesNotCloseObject(t *testing.T) {
	r := Inspect(`{"text": "a } inside a string", "location":"LIBRARY","inventory":[],"scene_image_prompt":"x"}`)
	require.Equal(t, OutcomeParsed, r.Outcome)
	require.Equal(t, "a } inside a string", r.Update.Narrative)
	require.Equal(t, "x", r.Update.SceneImagePrompt)
}

func TestNormalize_EscapedQuoteDoesNotToggleString(t *testing.T) {
	r := Inspect(`{"text": "she said \"}\" and left"} trailing {"text": "ignored"}`)
	require.Equal(t, OutcomeParsed, r.Outcome)
	require.Equal(t, `she said "}" and left`, r.Update.Narrative)
}

func TestNormalize_TruncatedArrayAndObject(t *testing.T) {
	r := Inspect(`{"text": "Hello world", "location": "STORY_WORLD", "inventory": ["sword"`)
	require.Equal(t, OutcomeRepaired, r.Outcome)
	require.Contains(t, r.Update.Narrative, "Hello world")
	require.Equal(t, domain.LocationStoryWorld, r.Update.Location)
	require.Equal(t, []string{"sword"}, r.Update.Inventory)
}

func TestNormalize_TruncatedInsideString(t *testing.T) {
	r := Inspect(`{"location": "STORY_WORLD", "text": "The door creaks open and`)
	require.Equal(t, OutcomeRepaired, r.Outcome)
	require.Equal(t, "The door creaks open and", r.Update.Narrative)
	require.Equal(t, domain.LocationStoryWorld, r.Update.Location)
}

func TestNormalize_TruncatedInsideKey(t *testing.T) {
	r := Inspect(`{"text": "Hi", "loca`)
	require.Equal(t, OutcomeRepaired, r.Outcome)
	require.Equal(t, "Hi", r.Update.Narrative)
	require.Equal(t, domain.LocationLibrary, r.Update.Location)
}

func TestNormalize_TruncatedLiteral(t *testing.T) {
	r := Inspect(`{"text": "Hi", "inventory": ["a", tru`)
	require.Equal(t, OutcomeRepaired, r.Outcome)
	require.Equal(t, []string{"a"}, r.Update.Inventory)
}

func TestNormalize_UnrepairableFallsBackToLenientText(t *testing.T) {
	r := Inspect(`{"text": "Kept \"quoted\" words", "npc": {"name" "x"`)
	require.Equal(t, OutcomeLenient, r.Outcome)
	require.Equal(t, `Kept "quoted" words...`, r.Update.Narrative)
	require.Equal(t, domain.LocationLibrary, r.Update.Location)
	require.Equal(t, RecoveryScenePrompt, r.Update.SceneImagePrompt)
	require.Empty(t, r.Update.Inventory)
}

func TestNormalize_UnrepairableWithoutTextUsesFallback(t *testing.T) {
	r := Inspect(`{"location" "STORY_WORLD"}`)
	require.Equal(t, OutcomeFallback, r.Outcome)
	require.Equal(t, FallbackNarrative, r.Update.Narrative)
}

func TestNormalize_StripsCodeFences(t *testing.T) {
	r := Inspect("```json\n{\"text\": \"Fenced\", \"location\": \"story_world\"}\n```")
	require.Equal(t, OutcomeParsed, r.Outcome)
	require.Equal(t, "Fenced", r.Update.Narrative)
	require.Equal(t, domain.LocationStoryWorld, r.Update.Location)
}

func TestNormalize_LeadingProseBeforeObject(t *testing.T) {
	u := Normalize(`Sure! Here is the scene: {"text": "Dust motes drift."}`)
	require.Equal(t, "Dust motes drift.", u.Narrative)
}

func TestNormalize_CoercesWrongTypes(t *testing.T) {
	u := Normalize(`{"text": "ok", "location": "ATLANTIS", "inventory": "sword", "book_title": 3, "scene_image_prompt": ["x"]}`)
	require.Equal(t, domain.LocationLibrary, u.Location)
	require.Equal(t, []string{}, u.Inventory)
	require.Empty(t, u.BookTitle)
	require.Equal(t, DefaultScenePrompt, u.SceneImagePrompt)
}

func TestNormalize_DropsNonStringInventoryItems(t *testing.T) {
	u := Normalize(`{"text": "ok", "inventory": ["rope", 3, null, {"name": "x"}, "torch"]}`)
	require.Equal(t, []string{"rope", "torch"}, u.Inventory)
}

func TestNormalize_NPCAllOrNothing(t *testing.T) {
	cases := []struct {
		name string
		npc  string
		want *domain.NPC
	}{
		{name: "name only", npc: `{"name": "Bob"}`},
		{name: "blank intent", npc: `{"name": "Bob", "expression": "sly", "intent": "  "}`},
		{name: "wrong type", npc: `{"name": "Bob", "expression": "sly", "intent": 4}`},
		{name: "not an object", npc: `"Bob"`},
		{name: "complete", npc: `{"name": "Bob", "expression": "sly", "intent": "trade"}`, want: &domain.NPC{Name: "Bob", Expression: "sly", Intent: "trade"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := Normalize(`{"text": "ok", "npc": ` + tc.npc + `}`)
			require.Equal(t, tc.want, u.ActiveNPC)
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	in := fixture[:len(fixture)/2]
	require.Equal(t, Inspect(in), Inspect(in))
}
