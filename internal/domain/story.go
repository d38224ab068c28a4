package domain

// Location is where the player currently stands.
type Location string

const (
	LocationLibrary    Location = "LIBRARY"
	LocationStoryWorld Location = "STORY_WORLD"
)

// NPC describes a character the player can currently address.
type NPC struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Intent     string `json:"intent"`
}

// StoryUpdate is the normalized result of a turn. Empty optional strings mean
// the field was absent in the model output.
type StoryUpdate struct {
	Narrative        string   `json:"narrative"`
	Location         Location `json:"location"`
	BookTitle        string   `json:"bookTitle,omitempty"`
	Inventory        []string `json:"inventory"`
	SceneImagePrompt string   `json:"sceneImagePrompt"`
	NarratorTone     string   `json:"narratorTone,omitempty"`
	AmbientMood      string   `json:"ambientMood,omitempty"`
	SFXTrigger       string   `json:"sfxTrigger,omitempty"`
	ActiveNPC        *NPC     `json:"activeNpc,omitempty"`
}
