// Package download retrieves the full set of artifacts a circuit variant
// needs as one unit of work. The verification key, proving key and witness
// program are fetched concurrently and the download only succeeds when all
// three arrive with content.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/telemetry"
)

// Fetcher retrieves the content at path under root.
// *retrieval.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, root artifactfetcher.RootID, path string) ([]byte, error)
}

// Sink receives each artifact of a variant once the whole variant has been
// downloaded successfully. If any Put fails, the artifacts already put for
// that variant are removed so a variant is stored whole or not at all.
type Sink interface {
	Put(ctx context.Context, variant string, kind artifactfetcher.Kind, data []byte) error
	Remove(ctx context.Context, variant string, kind artifactfetcher.Kind) error
}

// Artifact describes one retrieved artifact.
type Artifact struct {
	Kind artifactfetcher.Kind
	Path string
	Size int64
	Hash artifactfetcher.Hash
}

// Result holds the outcome of a variant download. The artifact bytes are not
// retained; configure a Sink to keep them.
type Result struct {
	Variant   string
	Artifacts []Artifact
}

// Downloader fetches variants from a fixed root.
type Downloader struct {
	fetcher Fetcher
	root    artifactfetcher.RootID
	sink    Sink
	logger  *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithRoot sets the root identifier artifacts are resolved under.
func WithRoot(root artifactfetcher.RootID) Option {
	return func(d *Downloader) {
		d.root = root
	}
}

// WithSink sets where downloaded artifacts are handed off to.
func WithSink(sink Sink) Option {
	return func(d *Downloader) {
		d.sink = sink
	}
}

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a new Downloader. The root defaults to
// artifactfetcher.DefaultRootID.
func New(fetcher Fetcher, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher: fetcher,
		root:    artifactfetcher.DefaultRootID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the root identifier in use.
func (d *Downloader) Root() artifactfetcher.RootID {
	return d.root
}

type outcome struct {
	kind artifactfetcher.Kind
	path string
	data []byte
	err  error
}

// DownloadVariant fetches the verification key, proving key and witness
// program of variant concurrently.
//
// All three fetches are allowed to settle before the outcome is evaluated, so
// one failure never abandons the others mid-stream. Fetch errors are joined in
// vkey, zkey, wasm order. If every fetch succeeded but some came back empty,
// an *artifactfetcher.IncompleteVariantError names the first empty one in the
// same order.
func (d *Downloader) DownloadVariant(ctx context.Context, variant string) (*Result, error) {
	start := time.Now()
	logger := d.logger.With("variant", variant, "root", d.root, "run_id", uuid.NewString())
	logger.Info("downloading artifacts")

	kinds := artifactfetcher.RequiredKinds()
	outcomes := make([]outcome, len(kinds))

	var wg conc.WaitGroup
	for i, kind := range kinds {
		path := artifactfetcher.ResolvePath(kind, variant)
		outcomes[i] = outcome{kind: kind, path: path}
		wg.Go(func() {
			outcomes[i].data, outcomes[i].err = d.fetcher.Fetch(ctx, d.root, path)
		})
	}
	wg.Wait()

	result, err := d.evaluate(variant, outcomes)
	if err == nil && d.sink != nil {
		err = d.store(ctx, variant, outcomes)
	}
	duration := time.Since(start)
	if err != nil {
		telemetry.RecordVariantDownload(ctx, duration, variantOutcome(ctx, err))
		logger.Warn("variant download failed", "error", err, "duration", duration)
		return nil, err
	}

	telemetry.RecordVariantDownload(ctx, duration, "success")
	for _, a := range result.Artifacts {
		logger.Debug("artifact downloaded", "kind", a.Kind, "path", a.Path, "bytes", a.Size, "hash", a.Hash.ShortString())
	}
	logger.Info("variant downloaded", "duration", duration)
	return result, nil
}

func (d *Downloader) evaluate(variant string, outcomes []outcome) (*Result, error) {
	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.kind, o.err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var missing []artifactfetcher.Kind
	for _, o := range outcomes {
		if len(o.data) == 0 {
			missing = append(missing, o.kind)
		}
	}
	if len(missing) > 0 {
		return nil, &artifactfetcher.IncompleteVariantError{
			Variant: variant,
			Kind:    missing[0],
			Missing: missing,
		}
	}

	result := &Result{Variant: variant, Artifacts: make([]Artifact, len(outcomes))}
	for i, o := range outcomes {
		result.Artifacts[i] = Artifact{
			Kind: o.kind,
			Path: o.path,
			Size: int64(len(o.data)),
			Hash: artifactfetcher.HashBytes(o.data),
		}
	}
	return result, nil
}

func (d *Downloader) store(ctx context.Context, variant string, outcomes []outcome) error {
	for i, o := range outcomes {
		if err := d.sink.Put(ctx, variant, o.kind, o.data); err != nil {
			err = fmt.Errorf("storing %s artifact: %w", o.kind, err)
			return errors.Join(err, d.rollback(context.WithoutCancel(ctx), variant, outcomes[:i]))
		}
	}
	return nil
}

// rollback removes artifacts already put, in reverse order.
func (d *Downloader) rollback(ctx context.Context, variant string, stored []outcome) error {
	var errs []error
	for _, o := range slices.Backward(stored) {
		if err := d.sink.Remove(ctx, variant, o.kind); err != nil {
			errs = append(errs, fmt.Errorf("removing %s artifact: %w", o.kind, err))
		}
	}
	return errors.Join(errs...)
}

// FetchArtifact retrieves a single artifact of any kind, including auxiliary
// data. An empty result is returned as is.
func (d *Downloader) FetchArtifact(ctx context.Context, kind artifactfetcher.Kind, variant string) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	return d.fetcher.Fetch(ctx, d.root, artifactfetcher.ResolvePath(kind, variant))
}

func variantOutcome(ctx context.Context, err error) string {
	var incomplete *artifactfetcher.IncompleteVariantError
	switch {
	case errors.As(err, &incomplete):
		return "incomplete"
	case ctx.Err() != nil:
		return "canceled"
	default:
		return "error"
	}
}
