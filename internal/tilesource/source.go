// Package tilesource fetches raster tiles from templated HTTP tile providers.
package tilesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp" // Register WebP decoder
	"k8s.io/klog/v2"

	"geotrek-offline/internal/geo"
)

// DefaultTimeout bounds a single tile request.
const DefaultTimeout = 15 * time.Second

// ErrTileFetch is matched by every FetchError.
var ErrTileFetch = errors.New("tile fetch failed")

// FetchError is a single-tile network or decoding failure.
type FetchError struct {
	Key        geo.TileKey
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to download tile %s: status %d: %v", e.Key, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to download tile %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTileFetch) match any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrTileFetch }

// Fetcher returns the raw image bytes of one tile.
type Fetcher interface {
	Fetch(ctx context.Context, key geo.TileKey) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key geo.TileKey) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key geo.TileKey) ([]byte, error) {
	return f(ctx, key)
}

// ProviderTemplates returns the URL template of each known provider.
func ProviderTemplates() map[string]string {
	return map[string]string{
		"osm":           "https://tile.openstreetmap.org/{{ZOOM}}/{{X}}/{{Y}}.png",
		"thunderforest": "https://tile.thunderforest.com/{{MAP_STYLE}}/{{ZOOM}}/{{X}}/{{Y}}.png?apikey={{API_KEY}}",
		"geoapify":      "https://maps.geoapify.com/v1/tile/{{MAP_STYLE}}/{{ZOOM}}/{{X}}/{{Y}}.png?apiKey={{API_KEY}}",
		"cnig.es":       "https://tms-ign-base.idee.es/1.0.0/IGNBaseTodo/{{ZOOM}}/{{X}}/{{Y}}.jpeg",
	}
}

// KnownProviders returns the provider names, sorted.
func KnownProviders() []string {
	templates := ProviderTemplates()
	providers := make([]string, 0, len(templates))
	for k := range templates {
		providers = append(providers, k)
	}
	sort.Strings(providers)
	return providers
}

// RequiresAPIKey reports whether the provider's template embeds an API key.
func RequiresAPIKey(provider string) bool {
	return strings.Contains(ProviderTemplates()[provider], "{{API_KEY}}")
}

// Options configures an HTTP tile source.
type Options struct {
	// Template is a URL with {{ZOOM}}, {{X}}, {{Y}} and optionally
	// {{MAP_STYLE}} and {{API_KEY}} placeholders.
	Template string
	Style    string
	APIKey   string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// ReduceFromZoom re-encodes tiles at or above this zoom with the best
	// PNG compression. Zero disables it.
	ReduceFromZoom uint32
	UserAgent      string
	Client         *http.Client
}

// Source fetches tiles over HTTP and returns them as PNG bytes.
type Source struct {
	opts   Options
	client *http.Client
}

// New returns a Source for opts.
func New(opts Options) (*Source, error) {
	if opts.Template == "" {
		return nil, fmt.Errorf("tile URL template is required")
	}
	for _, p := range []string{"{{ZOOM}}", "{{X}}", "{{Y}}"} {
		if !strings.Contains(opts.Template, p) {
			return nil, fmt.Errorf("tile URL template %q lacks %s", opts.Template, p)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geotrek-offline/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Source{opts: opts, client: client}, nil
}

// NewForProvider returns a Source using a known provider's template.
func NewForProvider(provider string, opts Options) (*Source, error) {
	template, ok := ProviderTemplates()[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is unknown. Known: %s", provider, strings.Join(KnownProviders(), ", "))
	}
	opts.Template = template
	return New(opts)
}

// URL expands the template for key.
func (s *Source) URL(key geo.TileKey) string {
	r := strings.NewReplacer(
		"{{MAP_STYLE}}", s.opts.Style,
		"{{ZOOM}}", strconv.FormatUint(uint64(key.Zoom), 10),
		"{{X}}", strconv.FormatUint(uint64(key.X), 10),
		"{{Y}}", strconv.FormatUint(uint64(key.Y), 10),
		"{{API_KEY}}", s.opts.APIKey,
	)
	return r.Replace(s.opts.Template)
}

// RedactKey redacts the API key in a URL for logging.
func (s *Source) RedactKey(url string) string {
	if s.opts.APIKey != "" {
		return strings.ReplaceAll(url, s.opts.APIKey, "[REDACTED]")
	}
	return url
}

// Fetch downloads one tile. Any non-2xx status, a non-image content type or an
// undecodable body is a *FetchError.
func (s *Source) Fetch(ctx context.Context, key geo.TileKey) ([]byte, error) {
	if !key.Valid() {
		return nil, &FetchError{Key: key, Err: fmt.Errorf("tile index outside 2^%d grid", key.Zoom)}
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	url := s.URL(key)
	redactedURL := s.RedactKey(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Key: key, Err: errors.New(s.RedactKey(err.Error()))}
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Key: key, Err: errors.New(s.RedactKey(err.Error()))}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Key: key, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &FetchError{Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("not an image: %q", contentType)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Key: key, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	reducing := s.opts.ReduceFromZoom > 0 && key.Zoom >= s.opts.ReduceFromZoom
	switch {
	case reducing:
		klog.V(2).Infof("Reducing tile from %s", redactedURL)
	case contentType != "image/png":
		klog.V(2).Infof("Converting %s tile from %s", contentType, redactedURL)
	default:
		klog.V(2).Infof("Keeping not altered tile %s", redactedURL)
		return data, nil
	}
	out, err := EncodePNG(data)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	return out, nil
}

// EncodePNG decodes a PNG, JPEG or WebP image and re-encodes it as PNG with
// the best compression.
func EncodePNG(imgData []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	var buf bytes.Buffer
	encoder := png.Encoder{
		CompressionLevel: png.BestCompression,
	}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
