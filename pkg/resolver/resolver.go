// Package resolver locates the playable video inside a completed job's
// directory tree on the file server.
package resolver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/media"
	"usenetstreamer/pkg/webdav"
)

const (
	DefaultMaxDepth        = 6
	DefaultListConcurrency = 4
	contentRoot            = "/content"
)

// Lister returns the immediate children of a directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]webdav.Entry, error)
}

// FileCandidate is a video file considered for playback.
type FileCandidate struct {
	Path           string
	Name           string
	SizeBytes      int64
	IsVideo        bool
	MatchesEpisode bool
}

// Resolver walks a job directory breadth-first.
type Resolver struct {
	lister      Lister
	maxDepth    int
	concurrency int
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithMaxDepth bounds how many directory levels below the job root are visited.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) { r.maxDepth = depth }
}

// WithListConcurrency bounds concurrent listings within one level.
func WithListConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func New(lister Lister, opts ...Option) *Resolver {
	r := &Resolver{lister: lister, maxDepth: DefaultMaxDepth, concurrency: DefaultListConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JobRoot returns the directory a job is mounted under.
func JobRoot(category, jobName string) string {
	return webdav.NormalizePath(fmt.Sprintf("%s/%s/%s", contentRoot, category, jobName))
}

// FindBestVideo returns the largest video matching episode, or the largest
// video overall when none match. It returns (nil, nil) when the tree holds
// no video file. Directories that fail to list are skipped.
func (r *Resolver) FindBestVideo(ctx context.Context, category, jobName string, episode *media.Episode) (*FileCandidate, error) {
	root := JobRoot(category, jobName)
	visited := map[string]bool{}
	level := []string{root}

	var best, bestEpisode *FileCandidate

	for depth := 0; len(level) > 0 && depth <= r.maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dirs := level[:0:0]
		for _, dir := range level {
			if visited[dir] {
				continue
			}
			visited[dir] = true
			dirs = append(dirs, dir)
		}

		listings := make([][]webdav.Entry, len(dirs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for i, dir := range dirs {
			g.Go(func() error {
				entries, err := r.lister.List(gctx, dir)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("Failed to list directory", "path", dir, "err", err)
					return nil
				}
				listings[i] = entries
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []string
		for i, dir := range dirs {
			for _, entry := range listings[i] {
				name := entry.Name
				if name == "" {
					name = webdav.BaseName(entry.Path)
				}
				if name == "" {
					continue
				}
				entryPath := webdav.JoinPath(dir, name)

				if entry.IsDir {
					next = append(next, entryPath)
					continue
				}
				if !media.IsVideoFile(name) {
					continue
				}

				candidate := &FileCandidate{
					Path:           entryPath,
					Name:           name,
					SizeBytes:      entry.Size,
					IsVideo:        true,
					MatchesEpisode: media.MatchesEpisode(name, episode),
				}
				if candidate.MatchesEpisode && (bestEpisode == nil || candidate.SizeBytes > bestEpisode.SizeBytes) {
					bestEpisode = candidate
				}
				if best == nil || candidate.SizeBytes > best.SizeBytes {
					best = candidate
				}
			}
		}
		level = next
	}

	if bestEpisode != nil {
		return bestEpisode, nil
	}
	return best, nil
}
