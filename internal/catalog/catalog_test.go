package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/ocp-media/ocp/internal/model"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	return New(nil, t.TempDir())
}

func TestLikeUnlikeRoundTrip(t *testing.T) {
	is := is.New(t)
	c := newTestCatalog(t)

	entry := model.Entry{URI: "https://x/a.mp3", Title: "A", Artist: "B"}
	is.NoErr(c.Like(entry))
	is.True(c.IsLiked("https://x/a.mp3"))

	is.NoErr(c.Unlike("https://x/a.mp3"))
	is.True(!c.IsLiked("https://x/a.mp3"))

	// Unliking again is a no-op, not an error.
	is.NoErr(c.Unlike("https://x/a.mp3"))
}

func TestLikeTwiceIsIdempotent(t *testing.T) {
	is := is.New(t)
	c := newTestCatalog(t)

	entry := model.Entry{URI: "u", Title: "T"}
	is.NoErr(c.Like(entry))
	is.NoErr(c.Like(entry))
	is.True(c.IsLiked("u"))

	// A second like must not inflate the play count.
	c.likedMu.Lock()
	count := c.liked["u"].PlayCount
	c.likedMu.Unlock()
	is.Equal(count, 0)
}

func TestLikedSongsPersistAcrossReload(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()

	c := New(nil, dir)
	is.NoErr(c.Like(model.Entry{URI: "u", OriginalURI: "orig", Title: "T"}))
	c.BumpPlayCount("orig")

	// The on-disk file is plain JSON keyed by URI.
	raw, err := os.ReadFile(filepath.Join(dir, "liked_songs.json"))
	is.NoErr(err)
	var onDisk map[string]LikedSong
	is.NoErr(json.Unmarshal(raw, &onDisk))
	is.Equal(onDisk["orig"].PlayCount, 1)

	reloaded := New(nil, dir)
	is.True(reloaded.IsLiked("orig"))
}

func TestLikeKeysByOriginalURI(t *testing.T) {
	is := is.New(t)
	c := newTestCatalog(t)

	is.NoErr(c.Like(model.Entry{URI: "https://resolved/x.mp3", OriginalURI: "yt//x"}))
	is.True(c.IsLiked("yt//x"))
	is.True(!c.IsLiked("https://resolved/x.mp3"))
}

func TestSetSearchResultsDedupsAndSorts(t *testing.T) {
	is := is.New(t)
	c := newTestCatalog(t)

	c.SetSearchResults([]model.Entry{
		{URI: "a", MatchConfidence: 40},
		{URI: "b", MatchConfidence: 90},
		{URI: "a", MatchConfidence: 99}, // duplicate, dropped
		{URI: "c", MatchConfidence: 60},
	})

	got := c.SearchResults()
	is.Equal(len(got), 3)
	is.Equal(got[0].URI, "b")
	is.Equal(got[1].URI, "c")
	is.Equal(got[2].URI, "a")
}

func TestSearchDBScoring(t *testing.T) {
	tests := []struct {
		name      string
		candidate model.Entry
		phrase    string
		mediaType model.MediaType
		want      int
	}{
		{
			name:      "music bonus plus word matches plus exact plus substring clamps at 100",
			candidate: model.Entry{Title: "bohemian rhapsody", MediaType: model.MediaMusic},
			phrase:    "bohemian rhapsody",
			want:      100, // 15 + 60 + 35 + 40 clamped
		},
		{
			name:      "single word match",
			candidate: model.Entry{Title: "rhapsody in blue"},
			phrase:    "rhapsody",
			want:      70, // 30 + 40 substring
		},
		{
			name:      "no match scores zero",
			candidate: model.Entry{Title: "something else"},
			phrase:    "unrelated",
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCatalog(t)
			results := c.SearchDB(context.Background(), tt.phrase, tt.mediaType, func() []model.Entry {
				return []model.Entry{tt.candidate}
			})

			var got []model.Entry
			for e := range results {
				got = append(got, e)
			}

			if tt.want == 0 {
				if len(got) != 0 {
					t.Fatalf("expected no results, got %v", got)
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("expected one result, got %d", len(got))
			}
			if got[0].MatchConfidence != tt.want {
				t.Fatalf("confidence = %d, want %d", got[0].MatchConfidence, tt.want)
			}
		})
	}
}

func TestFeaturedSkillsAdultFilter(t *testing.T) {
	is := is.New(t)
	c := newTestCatalog(t)

	c.skills["safe"] = SkillCard{SkillID: "safe", Featured: []model.Entry{{MediaType: model.MediaMusic}}}
	c.skills["adult"] = SkillCard{SkillID: "adult", Featured: []model.Entry{{MediaType: model.MediaAdult}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // skip the collection wait

	cards := c.GetFeaturedSkills(ctx, false)
	is.Equal(len(cards), 1)
	is.Equal(cards[0].SkillID, "safe")

	cards = c.GetFeaturedSkills(ctx, true)
	is.Equal(len(cards), 2)
}
