package model

// EntryFromMap normalizes a loosely-typed bus payload (map[string]any, as
// decoded from JSON) into an Entry. Every inbound edge that might receive
// a dict, an Entry, or (for play_media) a whole playlist converts through
// here before any typed code sees it.
func EntryFromMap(data map[string]interface{}) Entry {
	str := func(k string) string {
		s, _ := data[k].(string)
		return s
	}
	i64 := func(k string) int64 {
		f, _ := data[k].(float64)
		return int64(f)
	}
	i := func(k string) int {
		f, _ := data[k].(float64)
		return int(f)
	}

	return Entry{
		URI:             str("uri"),
		OriginalURI:     str("original_uri"),
		Title:           str("title"),
		Artist:          str("artist"),
		Image:           str("image"),
		BackgroundImage: str("background_image"),
		DurationMs:      i64("duration_ms"),
		PositionMs:      i64("position_ms"),
		PlaybackKind:    PlaybackKind(str("playback_kind")),
		MediaType:       MediaType(str("media_type")),
		TrackState:      TrackStatus(str("track_state")),
		SkillID:         str("skill_id"),
		SkillIcon:       str("skill_icon"),
		MatchConfidence: i("match_confidence"),
		Javascript:      str("javascript"),
		PlayCount:       i("play_count"),
	}
}

// EntriesFromMapSlice normalizes a []interface{} of dicts (as decoded from
// JSON) into a slice of Entry, skipping anything that isn't a map.
func EntriesFromMapSlice(raw interface{}) []Entry {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, EntryFromMap(m))
		}
	}
	return out
}
