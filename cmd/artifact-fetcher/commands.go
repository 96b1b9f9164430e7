package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/download"
)

// DownloadCmd downloads whole variants.
type DownloadCmd struct {
	Variants []string `arg:"" name:"variant" help:"Variant identifiers, e.g. 2x16."`
	Out      string   `help:"Directory to write artifacts to as <variant>/<kind>." type:"path"`
	Compress bool     `help:"Store artifacts zstd-compressed (requires --out)."`
}

func (c *DownloadCmd) Run(ctx context.Context, a *app) (err error) {
	if c.Compress && c.Out == "" {
		return errors.New("--compress requires --out")
	}

	var sink download.Sink
	if c.Out != "" {
		fsSink, err := a.sink(c.Out, c.Compress)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, fsSink.Close())
		}()
		sink = fsSink
	}
	d := a.downloader(sink)

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tKIND\tPATH\tSIZE\tBLAKE3")
	for _, variant := range c.Variants {
		result, err := d.DownloadVariant(ctx, variant)
		if err != nil {
			_ = tw.Flush()
			return err
		}
		writeResult(tw, result)
	}
	return tw.Flush()
}

func writeResult(w io.Writer, result *download.Result) {
	for _, art := range result.Artifacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", result.Variant, art.Kind, art.Path, art.Size, art.Hash.ShortString())
	}
}

// FetchCmd fetches one artifact.
type FetchCmd struct {
	Kind    string `arg:"" help:"Artifact kind (zkey, wasm, vkey, dat)."`
	Variant string `arg:"" help:"Variant identifier, e.g. 2x16."`
	Out     string `help:"File to write to; stdout when empty." short:"o" type:"path"`
	Expect  string `help:"Expected BLAKE3 hex digest; the artifact is rejected on mismatch."`
}

func (c *FetchCmd) Run(ctx context.Context, a *app) error {
	kind, err := artifactfetcher.ParseKind(c.Kind)
	if err != nil {
		return err
	}

	var want artifactfetcher.Hash
	if c.Expect != "" {
		if want, err = artifactfetcher.ParseHash(c.Expect); err != nil {
			return err
		}
	}

	data, err := a.downloader(nil).FetchArtifact(ctx, kind, c.Variant)
	if err != nil {
		return err
	}
	if got := artifactfetcher.HashBytes(data); c.Expect != "" && got != want {
		return fmt.Errorf("%s%s digest mismatch: got %s, want %s", kind, c.Variant, got, want)
	}

	if c.Out == "" {
		_, err = a.stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Out), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(c.Out, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Out, err)
	}
	a.logger.Info("artifact written", "kind", kind, "variant", c.Variant, "bytes", len(data), "file", c.Out)
	return nil
}

// PathCmd prints the resolved path of an artifact.
type PathCmd struct {
	Kind    string `arg:"" help:"Artifact kind (zkey, wasm, vkey, dat)."`
	Variant string `arg:"" help:"Variant identifier, e.g. 2x16."`
}

func (c *PathCmd) Run(a *app) error {
	kind, err := artifactfetcher.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	path := artifactfetcher.ResolvePath(kind, c.Variant)
	_, err = fmt.Fprintln(a.stdout, artifactfetcher.Address(artifactfetcher.RootID(a.globals.Root), path))
	return err
}
