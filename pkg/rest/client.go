package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/latoulicious/lavaclient/pkg/logging"
)

// Client accesses the REST endpoints on a Lavalink node.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	logger     logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a REST client for the node's companion REST port.
func NewClient(host string, port int, password string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:  fmt.Sprintf("http://%s:%d", host, port),
		password: password,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// LoadTracks resolves a query against the node's /loadtracks endpoint.
//
// Calls made after Close return an empty LOAD_FAILED result instead of an
// error; a lookup racing a teardown is expected and the caller cannot act
// on the failure anyway.
func (c *Client) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	if c.isClosed() {
		c.logger.Debug("loadtracks called on closed REST client", logging.String("identifier", identifier))
		return &LoadResult{LoadType: LoadTypeLoadFailed}, nil
	}

	endpoint := c.baseURL + "/loadtracks?identifier=" + url.QueryEscape(identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.isClosed() {
			return &LoadResult{LoadType: LoadTypeLoadFailed}, nil
		}
		return nil, fmt.Errorf("loadtracks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading loadtracks response: %w", err)
	}

	return decodeLoadResult(body)
}

// SearchYouTube resolves a YouTube search through the node.
func (c *Client) SearchYouTube(ctx context.Context, query string) (*LoadResult, error) {
	return c.LoadTracks(ctx, "ytsearch:"+query)
}

// SearchSoundCloud resolves a SoundCloud search through the node.
func (c *Client) SearchSoundCloud(ctx context.Context, query string) (*LoadResult, error) {
	return c.LoadTracks(ctx, "scsearch:"+query)
}

// Close marks the client closed. Lookups issued afterwards return empty
// results rather than errors.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.logger.Debug("closed REST client")
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// decodeLoadResult normalizes both response shapes into a LoadResult: the
// typed envelope from current nodes and the legacy bare track array.
func decodeLoadResult(body []byte) (*LoadResult, error) {
	var envelope loadResultEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.LoadType != "" {
		result := &LoadResult{
			LoadType:     envelope.LoadType,
			PlaylistInfo: envelope.PlaylistInfo,
			Tracks:       make([]*Track, 0, len(envelope.Tracks)),
		}
		for _, raw := range envelope.Tracks {
			track, err := DecodeTrack(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
			}
			result.Tracks = append(result.Tracks, track)
		}
		return result, nil
	}

	var legacy []json.RawMessage
	if err := json.Unmarshal(body, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	result := &LoadResult{
		LoadType: LoadTypeLegacyCompat,
		Tracks:   make([]*Track, 0, len(legacy)),
	}
	for _, raw := range legacy {
		track, err := DecodeTrack(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		result.Tracks = append(result.Tracks, track)
	}
	return result, nil
}
