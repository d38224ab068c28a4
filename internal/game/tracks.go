package game

import (
	"strings"

	"omni-library/internal/domain"
)

// TrackID names a looped ambient audio track.
type TrackID string

const (
	TrackLibrary TrackID = "library"
	TrackMystic  TrackID = "mystic"
	TrackForest  TrackID = "forest"
	TrackDesert  TrackID = "desert"
	TrackSpace   TrackID = "space"
)

type moodRule struct {
	keyword string
	track   TrackID
}

// moodPriority is checked in order; the first keyword found in the mood wins.
var moodPriority = []moodRule{
	{keyword: "space", track: TrackSpace},
	{keyword: "desert", track: TrackDesert},
	{keyword: "wind", track: TrackDesert},
	{keyword: "forest", track: TrackForest},
}

// MoodToTrack classifies the ambient track for a scene. The library always
// plays its own loop; story worlds match mood keywords and otherwise play the
// mystic loop.
func MoodToTrack(loc domain.Location, mood string) TrackID {
	if loc != domain.LocationStoryWorld {
		return TrackLibrary
	}
	m := strings.ToLower(mood)
	for _, rule := range moodPriority {
		if strings.Contains(m, rule.keyword) {
			return rule.track
		}
	}
	return TrackMystic
}
