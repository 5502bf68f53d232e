// Package srtm resolves 5x5 degree SRTM elevation tiles to local GeoTIFF
// files, downloading and unpacking the CGIAR archives when a tile is missing.
package srtm

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"trailstats/internal/elevation"
)

const DefaultBaseURL = "https://srtm.csi.cgiar.org/wp-content/uploads/files/srtm_5x5/TIFF"

var ErrTileNotFound = errors.New("srtm tile not found")

// Client implements elevation.TileLoader on top of a tile directory.
type Client struct {
	Dir         string
	BaseURL     string
	MirrorURLs  []string
	HTTPClient  *http.Client
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// TileName is the archive and file stem of a cell, e.g. srtm_38_03.
func TileName(cell elevation.Cell) string {
	return "srtm_" + cell.String()
}

// LoadTile returns the path of the cell's GeoTIFF, fetching it first when
// it is not in Dir yet.
func (c *Client) LoadTile(ctx context.Context, cell elevation.Cell) (string, error) {
	name := TileName(cell)
	dir := c.dir()
	target := filepath.Join(dir, name+".tif")
	if _, err := os.Stat(target); err == nil {
		return target, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tile dir: %w", err)
	}
	archive, err := os.CreateTemp(dir, name+"-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	size, err := c.downloadWithRetry(ctx, name+".zip", archive)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	if err := extractTIFF(archive, size, name, target); err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}
	log.Printf("srtm tile %s ready (%s archive)", name, humanize.Bytes(uint64(size)))
	return target, nil
}

func (c *Client) downloadWithRetry(ctx context.Context, file string, dst *os.File) (int64, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseSleep := c.BackoffBase
	if baseSleep <= 0 {
		baseSleep = time.Second
	}
	endpoints := c.baseURLs()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		base := endpoints[attempt%len(endpoints)]
		size, status, err := c.downloadOnce(ctx, base, file, dst)
		if err == nil {
			return size, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if status == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrTileNotFound, file)
		}
		if !isRetryable(status, err) || attempt == maxAttempts-1 {
			break
		}
		log.Printf("srtm download %s: attempt %d failed: %v", file, attempt+1, err)
		sleep := baseSleep << attempt
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return 0, lastErr
}

func (c *Client) downloadOnce(ctx context.Context, base, file string, dst *os.File) (int64, int, error) {
	endpoint, err := url.Parse(base)
	if err != nil {
		return 0, 0, fmt.Errorf("parse srtm url: %w", err)
	}
	endpoint.Path = path.Join(endpoint.Path, file)

	ctx, cancel := context.WithTimeout(ctx, c.effectiveTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, resp.StatusCode, fmt.Errorf("srtm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return 0, resp.StatusCode, err
	}
	if err := dst.Truncate(0); err != nil {
		return 0, resp.StatusCode, err
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return 0, resp.StatusCode, err
	}
	return n, resp.StatusCode, nil
}

// extractTIFF copies the archive's GeoTIFF member to target. The file
// appears under its final name only once it is complete.
func extractTIFF(archive io.ReaderAt, size int64, name, target string) error {
	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return err
	}

	var member *zip.File
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".tif") {
			continue
		}
		if member == nil || strings.EqualFold(path.Base(f.Name), name+".tif") {
			member = f
		}
	}
	if member == nil {
		return fmt.Errorf("%w: no tif in %s.zip", ErrTileNotFound, name)
	}

	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), name+"-*.tif")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (c *Client) dir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return "srtm"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{}
}

func (c *Client) effectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return time.Minute
}

func (c *Client) baseURLs() []string {
	if len(c.MirrorURLs) > 0 {
		return c.MirrorURLs
	}
	if c.BaseURL != "" {
		return []string{c.BaseURL}
	}
	return []string{DefaultBaseURL}
}

func isRetryable(status int, err error) bool {
	if status == http.StatusTooManyRequests || status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
