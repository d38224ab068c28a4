package game

// Sound names a one-shot sound effect.
type Sound string

const (
	SoundShatter Sound = "shatter"
	SoundPage    Sound = "page"
	SoundMagic   Sound = "magic"
)

// EffectKind discriminates Effect values.
type EffectKind string

const (
	EffectShatter   EffectKind = "shatter"
	EffectSFX       EffectKind = "sfx"
	EffectCrossfade EffectKind = "crossfade_ambient"
	EffectImage     EffectKind = "request_image"
)

// Effect is a side effect the view layer should perform after a state change.
// Only the fields relevant to Kind are set.
type Effect struct {
	Kind   EffectKind `json:"kind"`
	Sound  Sound      `json:"sound,omitempty"`
	Volume float64    `json:"volume,omitempty"`
	Track  TrackID    `json:"track,omitempty"`
	Turn   int        `json:"turn,omitempty"`
	Prompt string     `json:"prompt,omitempty"`
}

func sfx(s Sound, volume float64) Effect {
	return Effect{Kind: EffectSFX, Sound: s, Volume: volume}
}
