// Package normalize turns raw text-model output into a renderable
// domain.StoryUpdate. It never fails: malformed or truncated payloads are
// repaired where possible and otherwise degrade to defaults.
package normalize

import (
	"encoding/json"
	"strings"

	"omni-library/internal/domain"
)

const (
	// FallbackNarrative is shown when nothing usable could be recovered.
	FallbackNarrative = "The link is severed. The threads of fate fray and reality blurs at the edges..."
	// MissingNarrative replaces an absent or blank "text" field.
	MissingNarrative = "The pages are fading..."
	// DefaultScenePrompt replaces an absent "scene_image_prompt".
	DefaultScenePrompt = "Mysterious lighting"
	// RecoveryScenePrompt is used when an object was found but could not be
	// parsed even after repair.
	RecoveryScenePrompt = "A mystical library collapsing into white light"
)

// Outcome records which recovery path produced an update.
type Outcome string

const (
	OutcomeParsed   Outcome = "parsed"
	OutcomeRepaired Outcome = "repaired"
	OutcomeLenient  Outcome = "lenient"
	OutcomeFallback Outcome = "fallback"
)

// Result is a normalized update together with the path that produced it.
type Result struct {
	Update  domain.StoryUpdate
	Outcome Outcome
}

// Normalize converts raw model output into a StoryUpdate.
func Normalize(raw string) domain.StoryUpdate {
	return Inspect(raw).Update
}

// Inspect is Normalize, additionally reporting the recovery outcome.
func Inspect(raw string) Result {
	cleaned := stripFences(raw)

	candidate, complete, ok := extractObject(cleaned)
	if !ok {
		// No object at all: every field takes its default.
		u := fromObject(map[string]any{})
		u.Narrative = FallbackNarrative
		return Result{Update: u, Outcome: OutcomeFallback}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		outcome := OutcomeParsed
		if !complete {
			outcome = OutcomeRepaired
		}
		return Result{Update: fromObject(obj), Outcome: outcome}
	}

	if text, ok := lenientNarrative(cleaned); ok {
		return Result{Update: recovered(text), Outcome: OutcomeLenient}
	}
	return Result{Update: recovered(FallbackNarrative), Outcome: OutcomeFallback}
}

func recovered(narrative string) domain.StoryUpdate {
	return domain.StoryUpdate{
		Narrative:        narrative,
		Location:         domain.LocationLibrary,
		Inventory:        []string{},
		SceneImagePrompt: RecoveryScenePrompt,
	}
}

// fromObject coerces a decoded payload field by field. Missing or mistyped
// fields fall back individually.
func fromObject(obj map[string]any) domain.StoryUpdate {
	u := domain.StoryUpdate{
		Narrative:        stringField(obj, "text"),
		Location:         parseLocation(stringField(obj, "location")),
		BookTitle:        stringField(obj, "book_title"),
		Inventory:        stringSlice(obj["inventory"]),
		SceneImagePrompt: stringField(obj, "scene_image_prompt"),
		NarratorTone:     stringField(obj, "narrator_voice_tone"),
		AmbientMood:      stringField(obj, "ambient_mood"),
		SFXTrigger:       stringField(obj, "sfx_trigger"),
		ActiveNPC:        parseNPC(obj["npc"]),
	}
	if u.Narrative == "" {
		u.Narrative = MissingNarrative
	}
	if u.SceneImagePrompt == "" {
		u.SceneImagePrompt = DefaultScenePrompt
	}
	return u
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func parseLocation(s string) domain.Location {
	norm := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(s))
	if domain.Location(norm) == domain.LocationStoryWorld {
		return domain.LocationStoryWorld
	}
	return domain.LocationLibrary
}

// stringSlice keeps the string elements of v in order; anything that is not
// an array yields an empty slice.
func stringSlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseNPC is all-or-nothing: every sub-field must be a non-blank string.
func parseNPC(v any) *domain.NPC {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	npc := domain.NPC{
		Name:       stringField(obj, "name"),
		Expression: stringField(obj, "expression"),
		Intent:     stringField(obj, "intent"),
	}
	if npc.Name == "" || npc.Expression == "" || npc.Intent == "" {
		return nil
	}
	return &npc
}
