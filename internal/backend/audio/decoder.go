package audio

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/dhowden/tag"
	"github.com/mogiioin/hls-m3u8/m3u8"
)

// ffmpegDecoder shells out to ffmpeg/ffprobe for PCM decode and duration
// probing.
type ffmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

func newFFmpegDecoder() (*ffmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &ffmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

func (d *ffmpegDecoder) decodeFrom(ctx context.Context, uri string, out *otoOutput, startMs int64) error {
	args := []string{}
	if startMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(startMs)/1000.0))
	}
	args = append(args,
		"-i", uri,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", out.Channels()),
		"-ar", fmt.Sprintf("%d", out.SampleRate()),
		"-",
	)

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write decoded audio: %w", writeErr)
			}
		}
		if readErr != nil {
			break
		}
	}
	return cmd.Wait()
}

func (d *ffmpegDecoder) durationMs(uri string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		uri,
	}
	cmd := exec.Command(d.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	var sec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &sec); err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return int64(sec * 1000), nil
}

// readLocalTags reads embedded tag metadata from a local file path.
// Returns zero values (not an error) if the file has no readable tags;
// callers fall back to filename/stream metadata.
func readLocalTags(path string) (title, artist string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return m.Title(), m.Artist()
}

// isHLSManifest reports whether uri looks like an m3u8 playlist.
func isHLSManifest(uri string) bool {
	return strings.HasSuffix(strings.ToLower(strings.SplitN(uri, "?", 2)[0]), ".m3u8")
}

// hlsDurationMs fetches and parses an HLS media playlist, summing segment
// durations to estimate total track length. Master playlists (no segment
// durations of their own) return 0, ok=false and the backend falls back
// to ffprobe.
func hlsDurationMs(ctx context.Context, uri string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, false
	}

	playlist, listType, err := m3u8.Decode(buf, false)
	if err != nil || listType != m3u8.MEDIA {
		return 0, false
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return 0, false
	}

	var totalSec float64
	for _, seg := range media.Segments {
		if seg != nil {
			totalSec += seg.Duration
		}
	}
	return int64(totalSec * 1000), true
}
