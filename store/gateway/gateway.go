// Package gateway implements the store contract on top of IPFS HTTP gateways.
//
// A session is bootstrapped by probing the configured gateways in order and
// settling on the first that answers. Content is then requested as
// /ipfs/<root>/<path> and streamed back in fixed-size chunks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ipfspath "github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/store"
	"github.com/wolfeidau/artifact-fetcher/telemetry"
)

const (
	// DefaultTimeout bounds a gateway probe. Content requests are bounded by
	// the caller's context only, since proving keys can be very large.
	DefaultTimeout = 30 * time.Second
)

// DefaultGateways are tried in order when no gateways are configured.
var DefaultGateways = []string{
	"https://ipfs.io",
	"https://dweb.link",
	"https://w3s.link",
}

// ErrNoGateways is returned when a session is requested with no gateways configured.
var ErrNoGateways = errors.New("no gateways configured")

// probeCID is the CIDv1 of empty raw content using the identity hash
// ("bafkqaaa"). Any working gateway can answer it without touching the network.
var probeCID = func() cid.Cid {
	mh, err := multihash.Sum(nil, multihash.IDENTITY, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}()

// Client creates gateway sessions.
type Client struct {
	gateways     []string
	client       *http.Client
	probeTimeout time.Duration
	chunkSize    int
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGateways sets the gateway base URLs to try, in order.
func WithGateways(urls ...string) Option {
	return func(c *Client) {
		c.gateways = urls
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithProbeTimeout bounds each gateway probe during session creation.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.probeTimeout = d
	}
}

// WithChunkSize sets the size of the chunks content is delivered in.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a gateway client.
func New(opts ...Option) *Client {
	c := &Client{
		gateways: DefaultGateways,
		client: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil),
		},
		probeTimeout: DefaultTimeout,
		chunkSize:    store.DefaultChunkSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession implements store.Client. It returns a session bound to the
// first gateway that answers a probe.
func (c *Client) CreateSession(ctx context.Context) (store.Session, error) {
	if len(c.gateways) == 0 {
		return nil, ErrNoGateways
	}

	var errs []error
	for _, gw := range c.gateways {
		base, err := parseGateway(gw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.probe(ctx, base); err != nil {
			c.logger.Debug("gateway probe failed", "gateway", base.String(), "error", err)
			errs = append(errs, fmt.Errorf("probing %s: %w", base, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.logger.Info("using gateway", "gateway", base.String())
		return &Session{
			base:      base,
			client:    c.client,
			chunkSize: c.chunkSize,
		}, nil
	}
	return nil, fmt.Errorf("no gateway reachable: %w", errors.Join(errs...))
}

func (c *Client) probe(ctx context.Context, base *url.URL) error {
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, contentURL(base, ipfspath.FromCid(probeCID)), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}

// Session reads content through a single gateway.
type Session struct {
	base      *url.URL
	client    *http.Client
	chunkSize int
}

// Gateway returns the base URL of the gateway in use.
func (s *Session) Gateway() string {
	return s.base.String()
}

// OpenReadStream implements store.Session.
func (s *Session) OpenReadStream(ctx context.Context, root artifactfetcher.RootID, path string) (store.Chunks, error) {
	p, err := ContentPath(root, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL(s.base, p), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, store.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return store.ReaderChunks(ctx, resp.Body, s.chunkSize), nil
}

// ContentPath composes the immutable content path of path under root.
// root must be a valid CID.
func ContentPath(root artifactfetcher.RootID, path string) (ipfspath.Path, error) {
	c, err := cid.Decode(string(root))
	if err != nil {
		return nil, fmt.Errorf("invalid root %q: %w", root, err)
	}
	base := ipfspath.FromCid(c)
	if path == "" {
		return base, nil
	}
	p, err := ipfspath.Join(base, path)
	if err != nil {
		return nil, fmt.Errorf("joining %q under %s: %w", path, root, err)
	}
	return p, nil
}

func contentURL(base *url.URL, p ipfspath.Path) string {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + p.String()
	u.RawPath = ""
	u.RawQuery = ""
	return u.String()
}

func parseGateway(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q: missing host", raw)
	}
	return u, nil
}

var (
	_ store.Client  = (*Client)(nil)
	_ store.Session = (*Session)(nil)
)
