package domain

// GameSession is the persisted state of one game: the full transcript and the
// last normalized update.
type GameSession struct {
	Transcript []ConversationTurn `json:"transcript"`
	LastUpdate StoryUpdate        `json:"lastUpdate"`
}
