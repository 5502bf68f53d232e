package elevation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"trailstats/internal/raster"
)

const DefaultCacheSize = 16

var ErrTileUnavailable = errors.New("elevation tile unavailable")

// TileLoader produces a local raster file for a cell, fetching it if needed.
type TileLoader interface {
	LoadTile(ctx context.Context, cell Cell) (string, error)
}

// Sampler is a raster that can be read pixel by pixel.
type Sampler interface {
	Dims() (width, length int)
	ValueAt(row, col int) (uint64, error)
}

// TileSource hands out samplers by cell.
type TileSource interface {
	Tile(ctx context.Context, cell Cell) (Sampler, error)
}

type CacheOptions struct {
	Size int
	// TTL bounds how long a parsed tile is kept. Zero keeps tiles until
	// evicted by size.
	TTL time.Duration
}

// TileCache keeps parsed tiles in memory and loads each missing tile once,
// however many callers ask for it concurrently.
type TileCache struct {
	loader TileLoader
	tiles  *expirable.LRU[Cell, *raster.Tile]
	group  singleflight.Group
}

func NewTileCache(loader TileLoader, opts CacheOptions) *TileCache {
	size := opts.Size
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &TileCache{
		loader: loader,
		tiles:  expirable.NewLRU[Cell, *raster.Tile](size, closeTile, opts.TTL),
	}
}

func closeTile(cell Cell, t *raster.Tile) {
	if err := t.Close(); err != nil {
		log.Printf("close tile %s: %v", cell, err)
	}
}

func (c *TileCache) Tile(ctx context.Context, cell Cell) (Sampler, error) {
	t, err := c.Load(ctx, cell)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Load returns the parsed tile for cell, loading it through the loader on a
// miss. Failures wrap ErrTileUnavailable. A caller whose ctx ends stops
// waiting; the shared load carries on for the others.
func (c *TileCache) Load(ctx context.Context, cell Cell) (*raster.Tile, error) {
	if t, ok := c.tiles.Get(cell); ok {
		return t, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(cell.String(), func() (interface{}, error) {
		if t, ok := c.tiles.Get(cell); ok {
			return t, nil
		}
		if c.loader == nil {
			return nil, fmt.Errorf("%w: tile %s: no loader configured", ErrTileUnavailable, cell)
		}
		path, err := c.loader.LoadTile(loadCtx, cell)
		if err != nil {
			return nil, fmt.Errorf("%w: tile %s: %w", ErrTileUnavailable, cell, err)
		}
		t, err := raster.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: tile %s: %w", ErrTileUnavailable, cell, err)
		}
		c.tiles.Add(cell, t)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*raster.Tile), nil
	}
}

func (c *TileCache) Len() int {
	return c.tiles.Len()
}

func (c *TileCache) Purge() {
	c.tiles.Purge()
}
