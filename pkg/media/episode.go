package media

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/MunifTanjim/go-ptt"
)

// Episode identifies a single series episode.
type Episode struct {
	Season  int `json:"season"`
	Episode int `json:"episode"`
}

func (e Episode) String() string {
	return fmt.Sprintf("S%02dE%02d", e.Season, e.Episode)
}

// Key is the compact form used inside cache keys ("1x2").
func (e Episode) Key() string {
	return fmt.Sprintf("%dx%d", e.Season, e.Episode)
}

// ParseRequestedEpisode extracts the requested episode either from explicit
// season/episode values or from a Stremio series id (tt123:1:2).
// It returns nil for movies and when nothing usable was supplied.
func ParseRequestedEpisode(contentType, id, season, episode string) *Episode {
	s, sok := positiveInt(season)
	e, eok := positiveInt(episode)
	if sok && eok {
		return &Episode{Season: s, Episode: e}
	}

	if contentType != "series" || !strings.Contains(id, ":") {
		return nil
	}
	parts := strings.Split(id, ":")
	if len(parts) < 3 {
		return nil
	}
	s, sok = positiveInt(parts[1])
	e, eok = positiveInt(parts[2])
	if sok && eok {
		return &Episode{Season: s, Episode: e}
	}
	return nil
}

func positiveInt(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func episodePatterns(ep Episode) []*regexp.Regexp {
	s, e := ep.Season, ep.Episode
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`(?i)s0*%d\.?e0*%d([^0-9]|$)`, s, e)),
		regexp.MustCompile(fmt.Sprintf(`(?i)(^|[^0-9])0*%d[x]0*%d([^0-9]|$)`, s, e)),
		regexp.MustCompile(fmt.Sprintf(`(?i)e(?:pisode|p)\.?\s*0*%d([^0-9]|$)`, e)),
	}
}

// MatchesEpisode reports whether a file name refers to the requested episode.
// A nil episode matches everything.
func MatchesEpisode(name string, ep *Episode) bool {
	if ep == nil {
		return true
	}
	for _, re := range episodePatterns(*ep) {
		if re.MatchString(name) {
			return true
		}
	}

	info := ptt.Parse(name)
	if info == nil || len(info.Episodes) == 0 {
		return false
	}
	if len(info.Seasons) > 0 && !slices.Contains(info.Seasons, ep.Season) {
		return false
	}
	return slices.Contains(info.Episodes, ep.Episode)
}
