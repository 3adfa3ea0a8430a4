package nowplaying

import (
	"errors"
	"testing"

	"github.com/ocp-media/ocp/internal/model"
)

func TestUpdateNewOnlyAlwaysOverwritesURI(t *testing.T) {
	n := New(nil)
	n.Replace(model.Entry{
		URI:    "youtube//abc",
		Title:  "Skill Title",
		Artist: "Skill Artist",
		Image:  "skill.png",
	})

	// A stream-extraction result rewrites the URI but must not clobber
	// the metadata the skill already supplied.
	n.Update(model.Entry{
		URI:   "https://cdn.example.com/abc.mp3",
		Title: "Extractor Title",
	}, nil, true)

	snap := n.Snapshot()
	if snap.URI != "https://cdn.example.com/abc.mp3" {
		t.Fatalf("uri not overwritten: %q", snap.URI)
	}
	if snap.Title != "Skill Title" {
		t.Fatalf("title clobbered under newonly: %q", snap.Title)
	}
}

func TestUpdateSkipKeys(t *testing.T) {
	n := New(nil)
	n.Replace(model.Entry{URI: "a", Title: "keep me"})

	n.Update(model.Entry{URI: "b", Title: "replace"}, []string{"title"}, false)

	snap := n.Snapshot()
	if snap.URI != "b" || snap.Title != "keep me" {
		t.Fatalf("got uri=%q title=%q", snap.URI, snap.Title)
	}
}

func TestResetInvariant(t *testing.T) {
	n := New(nil)
	n.Replace(model.Entry{
		URI:          "https://x/y.mp3",
		Title:        "T",
		PlaybackKind: model.PlaybackAudio,
		MediaType:    model.MediaMusic,
	})
	n.SetStatus(model.StatusPlayingAudio)
	n.SetPlaybackTime(1000, 500)

	n.Reset()

	snap := n.Snapshot()
	if snap.URI != "" || snap.Title != "" {
		t.Fatalf("fields not cleared: %+v", snap.Entry)
	}
	if snap.PlaybackKind != model.PlaybackUndefined {
		t.Fatalf("playback_kind = %s, want UNDEFINED", snap.PlaybackKind)
	}
	if snap.MediaType != model.MediaGeneric {
		t.Fatalf("media_type = %s, want GENERIC", snap.MediaType)
	}
	if snap.Status != model.StatusDisambiguation {
		t.Fatalf("status = %s, want DISAMBIGUATION", snap.Status)
	}
	if snap.Length != 0 || snap.Position != 0 {
		t.Fatalf("playback time not cleared: %d/%d", snap.Position, snap.Length)
	}
}

type staticExtractor struct {
	result model.Entry
	err    error
}

func (e staticExtractor) Extract(uri string) (model.Entry, error) { return e.result, e.err }
func (e staticExtractor) SupportedSEIs() []string                 { return []string{"static"} }

func TestExtractStreamRecordsOriginalURI(t *testing.T) {
	n := New(staticExtractor{result: model.Entry{URI: "https://resolved/track.mp3"}})
	n.Replace(model.Entry{URI: "static//logical-id", Title: "T"})

	if err := n.ExtractStream(); err != nil {
		t.Fatalf("extract: %v", err)
	}
	snap := n.Snapshot()
	if snap.URI != "https://resolved/track.mp3" {
		t.Fatalf("uri = %q", snap.URI)
	}
	if snap.OriginalURI != "static//logical-id" {
		t.Fatalf("original_uri = %q", snap.OriginalURI)
	}
	if snap.Title != "T" {
		t.Fatalf("title lost during extraction: %q", snap.Title)
	}
}

func TestExtractStreamRejectsUnplayableScheme(t *testing.T) {
	n := New(staticExtractor{result: model.Entry{URI: "gopher://weird"}})
	n.Replace(model.Entry{URI: "static//x"})

	err := n.ExtractStream()
	if !errors.Is(err, ErrInvalidStream) {
		t.Fatalf("got %v, want ErrInvalidStream", err)
	}
	// NowPlaying untouched on failure.
	if n.URI() != "static//x" {
		t.Fatalf("uri mutated on failed extraction: %q", n.URI())
	}
}

func TestSEIRegistryDispatch(t *testing.T) {
	r := NewSEIRegistry()
	r.RegisterSEI("yt", func(rest string) (model.Entry, error) {
		return model.Entry{URI: "https://stream/" + rest}, nil
	})

	out, err := r.Extract("yt//abc123")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.URI != "https://stream/abc123" {
		t.Fatalf("got %q", out.URI)
	}

	// Unprefixed URIs pass through untouched.
	out, err = r.Extract("https://plain/file.mp3")
	if err != nil {
		t.Fatalf("extract passthrough: %v", err)
	}
	if out.URI != "https://plain/file.mp3" {
		t.Fatalf("passthrough mutated uri: %q", out.URI)
	}

	seis := r.SupportedSEIs()
	if len(seis) != 1 || seis[0] != "yt" {
		t.Fatalf("SupportedSEIs = %v", seis)
	}
}
