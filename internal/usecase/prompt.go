package usecase

import (
	"strings"

	"omni-library/internal/domain"
)

// openingPrompt stands in for the player's first message when a game starts.
const openingPrompt = "Start the game. Greet me at the heart of the Omni-Library. " +
	"Describe the mystical atmosphere around me, the shelves reaching into the sky and the ancient, dusty books waiting to be discovered. " +
	"Ask which story I want to step into."

func buildSystemInstruction() string {
	return strings.Join([]string{
		`You are "Omni-Library", an enchanted text adventure engine. The library holds a door into the universe of every book that exists, real or imagined.`,
		"",
		"Task:",
		taskRules(),
		"",
		"NPCs and Dialogue:",
		npcRules(),
		"",
		"Output Contract:",
		outputContract(),
		"",
		"CRITICAL: Your reply must always be one valid JSON object. If the text runs long, end it at a sensible point and close the JSON. Never leave the JSON structure unfinished.",
	}, "\n")
}

func taskRules() string {
	return strings.Join([]string{
		"- Draw the player into an immersive, atmospheric and interactive story.",
		"- React to everything the player writes and let it shape the world.",
		"- Describe scenes cinematically and appeal to the senses (smell, texture, sound).",
	}, "\n")
}

func npcRules() string {
	return strings.Join([]string{
		"- Populate story worlds with characters who interact with the player.",
		"- Characters do not only answer questions; sometimes they start a conversation, stop the player or offer something.",
		`- When a character is active in the scene, fill the "npc" object with their name, expression and current intent.`,
	}, "\n")
}

func outputContract() string {
	return strings.Join([]string{
		"Always answer with JSON in this shape:",
		"{",
		`  "text": "story text, cinematic narration, NPC speech in quotes",`,
		`  "location": "LIBRARY" or "STORY_WORLD",`,
		`  "book_title": "full title of the book entered",`,
		`  "inventory": ["item1", "item2"],`,
		`  "scene_image_prompt": "detailed English image prompt for the scene: atmosphere, lighting, cinematic style",`,
		`  "narrator_voice_tone": "Mysterious/Epic/Dramatic",`,
		`  "ambient_mood": "one or two words for the soundscape, e.g. forest, desert wind, deep space",`,
		`  "sfx_trigger": "optional one-shot sound effect name",`,
		`  "npc": {"name": "...", "expression": "...", "intent": "..."} (optional)`,
		"}",
	}, "\n")
}

// buildMessages lays out the request: the system instruction followed by the
// trailing window of the transcript, or the opening prompt for a new game.
func buildMessages(transcript []domain.ConversationTurn, window int) []domain.ChatMessage {
	messages := []domain.ChatMessage{{Role: domain.RoleSystem, Content: buildSystemInstruction()}}

	if len(transcript) == 0 {
		return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: openingPrompt})
	}

	start := 0
	if window > 0 && len(transcript) > window {
		start = len(transcript) - window
	}
	for _, turn := range transcript[start:] {
		messages = append(messages, turnToMessage(turn))
	}
	return messages
}

func turnToMessage(turn domain.ConversationTurn) domain.ChatMessage {
	role := domain.RoleUser
	if turn.Speaker == domain.SpeakerNarrator {
		role = domain.RoleAssistant
	}
	return domain.ChatMessage{Role: role, Content: turn.Text}
}
