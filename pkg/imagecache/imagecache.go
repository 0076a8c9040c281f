// Package imagecache implements the image extractor (C3): pull an image
// through the local containerd daemon and copy the tree rooted at
// /archive inside it into a content-addressed cache directory keyed by
// the image's content digest.
package imagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
)

// DefaultOutputDir is where extracted image trees land when the caller
// does not specify one.
const DefaultOutputDir = "/var/tmp/chess"

// DefaultNamespace is the containerd namespace used for extraction
// containers; kept distinct from any namespace the bootstrapped cluster
// workloads themselves might use.
const DefaultNamespace = "chess"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Cache pulls images and extracts their /archive tree into a local
// content-addressed directory via containerd.
type Cache struct {
	client    *containerd.Client
	namespace string
	outputDir string
}

// New dials containerd at socketPath (DefaultSocketPath if empty) and
// returns a Cache rooted at outputDir (DefaultOutputDir if empty).
func New(socketPath, outputDir string) (*Cache, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Cache{client: client, namespace: DefaultNamespace, outputDir: outputDir}, nil
}

// Close releases the containerd client connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ExtractAll extracts every image independently and returns the
// deduplicated, sorted list of image IDs that were successfully
// extracted (already-cached images count as success). Any single image
// failure aborts the batch: entries already written to disk for other
// images remain, since extraction is idempotent on retry.
func (c *Cache) ExtractAll(ctx context.Context, images []string) ([]string, error) {
	ids := make([]string, len(images))
	errs := make([]error, len(images))

	var wg sync.WaitGroup
	for i, ref := range images {
		wg.Add(1)
		go func(idx int, imageRef string) {
			defer wg.Done()
			timer := metrics.NewTimer()
			id, err := c.extractOne(ctx, imageRef)
			timer.ObserveDuration(metrics.ImageExtractDuration)

			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.ImageExtractTotal.WithLabelValues(result).Inc()

			ids[idx] = id
			errs[idx] = err
		}(i, ref)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", images[i], err)
		}
	}

	return dedupSorted(ids), nil
}

func (c *Cache) extractOne(ctx context.Context, ref string) (string, error) {
	hostLog := log.WithComponent("imagecache")
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	if id, ok := c.inspectCached(ctx, ref); ok {
		hostLog.Debug().Str("image", ref).Str("id", id).Msg("cache entry already present, skipping pull and extraction")
		return id, nil
	}

	image, err := c.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	id, err := imageID(image)
	if err != nil {
		return "", err
	}

	outDir := filepath.Join(c.outputDir, id)
	if isCached(outDir) {
		// Pulled afresh but another concurrent extraction of the same
		// image already completed it.
		return id, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", outDir, err)
	}

	containerID := fmt.Sprintf("chess-extract-%s", id[:12])
	container, err := c.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs("sh", "-c", "cp -r /archive/. /extract/"),
			oci.WithMounts([]specs.Mount{{
				Source:      outDir,
				Destination: "/extract",
				Type:        "bind",
				Options:     []string{"rbind"},
			}}),
		),
	)
	if err != nil {
		return "", fmt.Errorf("create extraction container: %w", err)
	}
	defer func() {
		if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			hostLog.Warn().Err(err).Str("container", containerID).Msg("failed to remove extraction container")
		}
	}()

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("create extraction task: %w", err)
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("wait on extraction task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("start extraction task: %w", err)
	}

	status := <-statusC
	if status.ExitCode() != 0 {
		return "", fmt.Errorf("%w: extraction exited %d", chesserr.ErrExecFailed, status.ExitCode())
	}

	hostLog.Info().Str("image", ref).Str("id", id).Str("dir", outDir).Msg("extracted image archive")
	return id, nil
}

// inspectCached resolves ref to its image ID via a local, non-pulling
// inspect and reports whether that ID's cache entry already exists on
// disk. A failed inspect (image not present locally) is reported as a
// cache miss rather than an error: the caller falls through to Pull.
func (c *Cache) inspectCached(ctx context.Context, ref string) (string, bool) {
	image, err := c.client.GetImage(ctx, ref)
	if err != nil {
		return "", false
	}
	id, err := imageID(image)
	if err != nil {
		return "", false
	}
	return id, isCached(filepath.Join(c.outputDir, id))
}

func isCached(outDir string) bool {
	_, err := os.Stat(outDir)
	return err == nil
}

func imageID(image containerd.Image) (string, error) {
	digest := image.Target().Digest.String()
	id := strings.TrimPrefix(digest, "sha256:")
	if id == digest || id == "" {
		return "", fmt.Errorf("unexpected image digest format: %q", digest)
	}
	return id, nil
}

func dedupSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
