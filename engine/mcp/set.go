package mcp

import (
	"context"
	"errors"
	"sync"

	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Set is the group of remote sources acquired for one run. An empty Set is
// valid and stands in for skipped servers.
type Set struct {
	sources   []*Source
	closeOnce sync.Once
	closeErr  error
}

// Open connects to every server concurrently. If any connection fails, the
// ones already opened are closed before the error is returned.
func Open(ctx context.Context, cache *ToolCache, servers ...ServerConfig) (*Set, error) {
	if len(servers) == 0 {
		return &Set{}, nil
	}
	sources := make([]*Source, len(servers))
	// Each SSE stream lives as long as the context given to Connect, so the
	// group has no derived context.
	var g errgroup.Group
	for i, cfg := range servers {
		g.Go(func() error {
			src, err := Connect(ctx, cfg, cache)
			if err != nil {
				return err
			}
			sources[i] = src
			return nil
		})
	}
	err := g.Wait()
	set := &Set{}
	for _, s := range sources {
		if s != nil {
			set.sources = append(set.sources, s)
		}
	}
	if err != nil {
		if cerr := set.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("Failed to close MCP sources after open error", "error", cerr)
		}
		return nil, err
	}
	logger.FromContext(ctx).Info("Opened MCP sources", "count", len(set.sources))
	return set, nil
}

// Sources returns the opened sources as engine tool sources.
func (s *Set) Sources() []llmadapter.ToolSource {
	out := make([]llmadapter.ToolSource, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	return out
}

func (s *Set) Len() int {
	return len(s.sources)
}

// Close closes every source once and joins their errors.
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, src := range s.sources {
			if err := src.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
