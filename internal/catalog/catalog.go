// Package catalog implements the media catalog: the accumulated
// search-results list, featured-skill announcements, and the durable
// liked-songs store. Liked songs are marshalled whole and written
// atomically to a 0600 file under the user's 0700 config dir.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ocp-media/ocp/internal/bus"
	"github.com/ocp-media/ocp/internal/model"
)

// SkillCard describes a skill that has announced itself and optionally
// offers featured content.
type SkillCard struct {
	SkillID   string       `json:"skill_id"`
	Name      string       `json:"name"`
	Image     string       `json:"image,omitempty"`
	Featured  []model.Entry `json:"featured,omitempty"`
}

// LikedSong is a persisted liked-songs map entry.
type LikedSong struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Image     string `json:"image,omitempty"`
	PlayCount int    `json:"play_count"`
}

// Catalog holds the search playlist, featured-skill cards, and the liked
// songs the user has favorited.
type Catalog struct {
	searchMu      sync.RWMutex // serializes search-playlist replacement against readers
	searchResults []model.Entry

	skillsMu sync.Mutex
	skills   map[string]SkillCard

	likedMu  sync.Mutex
	liked    map[string]LikedSong
	filePath string

	bus *bus.Bus
}

// New returns a Catalog persisting liked songs to configDir/liked_songs.json.
func New(b *bus.Bus, configDir string) *Catalog {
	c := &Catalog{
		skills:   make(map[string]SkillCard),
		liked:    make(map[string]LikedSong),
		filePath: filepath.Join(configDir, "liked_songs.json"),
		bus:      b,
	}
	if err := c.loadLiked(); err != nil {
		log.Printf("[CATALOG] failed to load liked songs: %v", err)
	}
	return c
}

// --- search playlist -------------------------------------------------

// SetSearchResults replaces the search playlist with entries deduplicated
// by URI and stably sorted by confidence, descending.
func (c *Catalog) SetSearchResults(entries []model.Entry) {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.URI]; ok {
			continue
		}
		seen[e.URI] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchConfidence > out[j].MatchConfidence
	})
	c.searchResults = out
}

// SearchResults returns a defensive copy of the current search playlist.
func (c *Catalog) SearchResults() []model.Entry {
	c.searchMu.RLock()
	defer c.searchMu.RUnlock()
	out := make([]model.Entry, len(c.searchResults))
	copy(out, c.searchResults)
	return out
}

// --- featured skills ---------------------------------------------------

// HandleSkillAnnounce registers a skill, storing its card if it declares
// featured tracks.
func (c *Catalog) HandleSkillAnnounce(msg bus.Message) {
	skillID, _ := msg.Data["skill_id"].(string)
	if skillID == "" {
		log.Printf("[CATALOG] skill announce missing skill_id, ignoring")
		return
	}
	name, _ := msg.Data["name"].(string)
	image, _ := msg.Data["image"].(string)
	featured := model.EntriesFromMapSlice(msg.Data["featured"])
	if len(featured) == 0 {
		return
	}

	card := SkillCard{SkillID: skillID, Name: name, Image: image, Featured: featured}

	c.skillsMu.Lock()
	c.skills[skillID] = card
	c.skillsMu.Unlock()
}

// HandleSkillDetach removes the skill's card from the featured-skills map.
// Liked songs are keyed by URI and carry no skill id, so they are left as
// they are.
func (c *Catalog) HandleSkillDetach(msg bus.Message) {
	skillID, _ := msg.Data["skill_id"].(string)
	if skillID == "" {
		return
	}
	c.skillsMu.Lock()
	delete(c.skills, skillID)
	c.skillsMu.Unlock()
}

// GetFeaturedSkills emits skills.get to prompt announcements, waits
// briefly to collect replies, then returns cards filtered by safety policy
// (ADULT/HENTAI dropped unless adult is true).
func (c *Catalog) GetFeaturedSkills(ctx context.Context, adult bool) []SkillCard {
	if c.bus != nil {
		if err := c.bus.Publish("skills.get", bus.Message{Type: "skills.get"}); err != nil {
			log.Printf("[CATALOG] failed to publish skills.get: %v", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(300 * time.Millisecond):
	}

	c.skillsMu.Lock()
	defer c.skillsMu.Unlock()

	out := make([]SkillCard, 0, len(c.skills))
	for _, card := range c.skills {
		if !adult && cardIsAdult(card) {
			continue
		}
		out = append(out, card)
	}
	return out
}

func cardIsAdult(card SkillCard) bool {
	for _, e := range card.Featured {
		if e.MediaType == model.MediaAdult || e.MediaType == model.MediaHentai {
			return true
		}
	}
	return false
}

// --- liked songs ---------------------------------------------------

// Like inserts uri into the liked-songs map and persists it.
func (c *Catalog) Like(entry model.Entry) error {
	key := entry.OriginalURI
	if key == "" {
		key = entry.URI
	}

	c.likedMu.Lock()
	c.liked[key] = LikedSong{Title: entry.Title, Artist: entry.Artist, Image: entry.Image}
	c.likedMu.Unlock()

	return c.saveLiked()
}

// Unlike removes uri from the liked-songs map and persists it. Removing a
// URI that was never liked is a no-op.
func (c *Catalog) Unlike(uri string) error {
	c.likedMu.Lock()
	_, existed := c.liked[uri]
	delete(c.liked, uri)
	c.likedMu.Unlock()

	if !existed {
		return nil
	}
	return c.saveLiked()
}

// IsLiked reports whether originalURI is a liked-songs key.
func (c *Catalog) IsLiked(originalURI string) bool {
	c.likedMu.Lock()
	defer c.likedMu.Unlock()
	_, ok := c.liked[originalURI]
	return ok
}

// BumpPlayCount increments the liked-songs play_count for uri, if liked,
// and persists the change. No-op if uri isn't liked.
func (c *Catalog) BumpPlayCount(originalURI string) {
	c.likedMu.Lock()
	song, ok := c.liked[originalURI]
	if !ok {
		c.likedMu.Unlock()
		return
	}
	song.PlayCount++
	c.liked[originalURI] = song
	c.likedMu.Unlock()

	if err := c.saveLiked(); err != nil {
		log.Printf("[CATALOG] failed to persist play count for %s: %v", originalURI, err)
	}
}

func (c *Catalog) loadLiked() error {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read liked songs: %w", err)
	}

	c.likedMu.Lock()
	defer c.likedMu.Unlock()
	return json.Unmarshal(data, &c.liked)
}

func (c *Catalog) saveLiked() error {
	c.likedMu.Lock()
	data, err := json.MarshalIndent(c.liked, "", "  ")
	c.likedMu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal liked songs: %w", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create liked songs dir: %w", err)
	}

	// Replace the whole file atomically: write to a tmp file in the
	// same directory, then rename over the target.
	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write liked songs: %w", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		return fmt.Errorf("commit liked songs: %w", err)
	}
	return nil
}

// --- search ---------------------------------------------------

// candidateSource supplies raw candidate tracks for SearchDB to score —
// model.Entry slices from whichever backing store (liked songs, search
// playlist, a skill-provided library) the deployment wires in.
type candidateSource func() []model.Entry

// SearchDB scores candidates against phrase using the confidence
// formula: 15 (music bonus) + 30*matched-entities + 35 (exact playlist
// match) + 40 (title substring), clamped at 100. Results are yielded over
// a channel so callers can stop consuming early.
func (c *Catalog) SearchDB(ctx context.Context, phrase string, mediaType model.MediaType, sources ...candidateSource) <-chan model.Entry {
	out := make(chan model.Entry)
	go func() {
		defer close(out)
		phraseLower := strings.ToLower(phrase)
		words := strings.Fields(phraseLower)

		for _, source := range sources {
			for _, candidate := range source() {
				score := scoreCandidate(candidate, phraseLower, words, mediaType)
				if score <= 0 {
					continue
				}
				candidate.MatchConfidence = score
				select {
				case out <- candidate:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func scoreCandidate(candidate model.Entry, phraseLower string, words []string, mediaType model.MediaType) int {
	score := 0
	if candidate.MediaType == model.MediaMusic {
		score += 15
	}

	titleLower := strings.ToLower(candidate.Title)
	artistLower := strings.ToLower(candidate.Artist)
	matched := 0
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(titleLower, w) || strings.Contains(artistLower, w) {
			matched++
		}
	}
	score += 30 * matched

	if titleLower == phraseLower {
		score += 35
	}
	if phraseLower != "" && strings.Contains(titleLower, phraseLower) {
		score += 40
	}

	if mediaType != "" && candidate.MediaType != mediaType {
		score -= 20
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
