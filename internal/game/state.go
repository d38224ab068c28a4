// Package game holds the pure scene reducer: it folds normalized story
// updates and image arrivals into a view state and reports the audio/visual
// effects the view should perform.
package game

import (
	"omni-library/internal/domain"
)

// State is the view-facing scene state. It is a value; reducers return a new
// copy rather than mutating their input.
type State struct {
	Location    domain.Location `json:"location"`
	Inventory   []string        `json:"inventory"`
	BookTitle   string          `json:"bookTitle,omitempty"`
	ScenePrompt string          `json:"scenePrompt,omitempty"`
	Image       []byte          `json:"-"`
	Ambient     TrackID         `json:"ambient"`
	Turn        int             `json:"turn"`
}

// ImageReady is emitted once per turn when the image request settles. A nil
// Image means no image was produced.
type ImageReady struct {
	Turn  int
	Image []byte
}

// NewState returns the state shown before the first update arrives.
func NewState() State {
	return State{
		Location:  domain.LocationLibrary,
		Inventory: []string{},
		Ambient:   TrackLibrary,
	}
}

// StateFrom rebuilds a state from a persisted update, e.g. on resume. turn is
// the number of narrator turns already played.
func StateFrom(u domain.StoryUpdate, turn int) State {
	return State{
		Location:    u.Location,
		Inventory:   append([]string{}, u.Inventory...),
		BookTitle:   u.BookTitle,
		ScenePrompt: u.SceneImagePrompt,
		Ambient:     MoodToTrack(u.Location, u.AmbientMood),
		Turn:        turn,
	}
}

// Apply folds a story update into prev.
func Apply(prev State, u domain.StoryUpdate) (State, []Effect) {
	next := prev
	next.Turn = prev.Turn + 1
	next.Location = u.Location
	next.Inventory = append([]string{}, u.Inventory...)
	next.BookTitle = u.BookTitle
	next.ScenePrompt = u.SceneImagePrompt
	next.Ambient = MoodToTrack(u.Location, u.AmbientMood)

	var effects []Effect
	if prev.Location == domain.LocationLibrary && next.Location == domain.LocationStoryWorld {
		effects = append(effects, Effect{Kind: EffectShatter}, sfx(SoundShatter, 0.8))
	}
	effects = append(effects, sfx(SoundPage, 0.2))
	if u.SFXTrigger != "" {
		effects = append(effects, sfx(Sound(u.SFXTrigger), 0.4))
	}
	if next.Ambient != prev.Ambient {
		effects = append(effects, Effect{Kind: EffectCrossfade, Track: next.Ambient})
	}
	effects = append(effects, Effect{Kind: EffectImage, Turn: next.Turn, Prompt: u.SceneImagePrompt})
	return next, effects
}

// ApplyImage folds an image arrival into s. A missing image keeps whatever
// was displayed before; otherwise the latest arrival wins.
func ApplyImage(s State, ev ImageReady) (State, []Effect) {
	if len(ev.Image) == 0 {
		return s, nil
	}
	s.Image = ev.Image
	return s, []Effect{sfx(SoundMagic, 0.3)}
}

// Resume rebuilds the scene for a persisted session and asks the view to
// restore its soundscape and illustration. No one-shot sounds are replayed.
func Resume(u domain.StoryUpdate, turn int) (State, []Effect) {
	s := StateFrom(u, turn)
	return s, []Effect{
		{Kind: EffectCrossfade, Track: s.Ambient},
		{Kind: EffectImage, Turn: s.Turn, Prompt: s.ScenePrompt},
	}
}
