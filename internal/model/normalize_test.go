package model

import (
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

// Entries cross the bus as JSON dictionaries; a marshal/unmarshal round
// trip through EntryFromMap must preserve every persisted field.
func TestEntryMapRoundTrip(t *testing.T) {
	is := is.New(t)

	in := Entry{
		URI:             "https://example.com/song.mp3",
		OriginalURI:     "youtube//dQw4w9WgXcQ",
		Title:           "A Song",
		Artist:          "An Artist",
		Image:           "https://example.com/cover.jpg",
		BackgroundImage: "https://example.com/bg.jpg",
		DurationMs:      215000,
		PositionMs:      1000,
		PlaybackKind:    PlaybackAudio,
		MediaType:       MediaMusic,
		TrackState:      StatusPlayingAudio,
		SkillID:         "skill-music.example",
		SkillIcon:       "icon.png",
		MatchConfidence: 85,
		Javascript:      "document.title",
		PlayCount:       3,
	}

	raw, err := json.Marshal(in)
	is.NoErr(err)
	var decoded map[string]interface{}
	is.NoErr(json.Unmarshal(raw, &decoded))

	out := EntryFromMap(decoded)
	is.Equal(out, in)
}

func TestEntriesFromMapSliceSkipsNonMaps(t *testing.T) {
	is := is.New(t)

	out := EntriesFromMapSlice([]interface{}{
		map[string]interface{}{"uri": "a"},
		"not a map",
		map[string]interface{}{"uri": "b"},
	})
	is.Equal(len(out), 2)
	is.Equal(out[0].URI, "a")
	is.Equal(out[1].URI, "b")

	is.Equal(EntriesFromMapSlice(nil), []Entry(nil))
	is.Equal(EntriesFromMapSlice("garbage"), []Entry(nil))
}
