package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// YtdlpResolver resolves stream references with yt-dlp.
type YtdlpResolver struct {
	// Proxy is passed to yt-dlp when set.
	Proxy string
}

var (
	jsOnce       sync.Once
	cachedJSArgs []string
)

func newYtdlp(proxy string) *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()
	if proxy != "" {
		cmd.Proxy(proxy)
	}
	return cmd
}

// ytdlpArgs returns the flags shared by every yt-dlp call.
func ytdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})
	args := append([]string(nil), cachedJSArgs...)
	return append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
	)
}

// Resolve returns the direct audio URL, title and duration of ref. Plain
// text is treated as a search query.
func (r *YtdlpResolver) Resolve(ctx context.Context, ref string) (*StreamInfo, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = "ytsearch1:" + ref
	}

	res, err := newYtdlp(r.Proxy).
		Format("bestaudio/best").
		Print("%(title)s\t%(duration)s\t%(url)s").
		NoSimulate().
		SkipDownload().
		IgnoreConfig().
		Run(ctx, append(ytdlpArgs(), target)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	return parseYtdlpPrint(res.Stdout)
}

func parseYtdlpPrint(out string) (*StreamInfo, error) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) < 3 || !strings.HasPrefix(parts[2], "http") {
			continue
		}
		info := &StreamInfo{Title: parts[0], URL: parts[2]}
		if secs, err := strconv.ParseFloat(parts[1], 64); err == nil {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
		return info, nil
	}
	return nil, errors.New("yt-dlp returned no playable url")
}

// SearchResult is one stream suggestion.
type SearchResult struct {
	Title string
	URL   string
}

// Search queries YouTube Music and YouTube in parallel and merges the hits,
// music results first. Slow backends are dropped after the deadline.
func Search(ctx context.Context, query string, limit int) []SearchResult {
	ctx, cancel := context.WithTimeout(ctx, 2600*time.Millisecond)
	defer cancel()

	var (
		mu      sync.Mutex
		ytm, yt []SearchResult
		seen    = make(map[string]bool)
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil || r == nil {
			return
		}
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			title := v.Title
			if len(v.Artists) > 0 {
				title += " - " + v.Artists[0].Name
			}
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: title})
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		r, err := ytsearch.NewClient(nil).Search(ctx, query)
		if err != nil {
			return
		}
		for _, v := range r.Results {
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: v.Title})
			}
			mu.Unlock()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := append(append([]SearchResult(nil), ytm...), yt...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
