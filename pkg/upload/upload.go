// Package upload implements the SFTP uploader (C4): mirror a local,
// content-addressed image cache directory to a remote directory tree
// over SFTP, skipping files that already exist on the far side.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"

	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
	"github.com/cuemby/chess/pkg/sshtransport"
	"github.com/cuemby/chess/pkg/types"
)

// maxConcurrentPairs bounds how many (host, image-id) uploads run at
// once, mirroring the m2deploy distributor's semaphore-bounded fan-out.
const maxConcurrentPairs = 10

// Pair is one (host, image-id) upload job.
type Pair struct {
	Host    types.HostEndpoint
	ImageID string
}

// Result is the outcome of one Pair's upload attempt.
type Result struct {
	Pair Pair
	Err  error
}

// UploadAll uploads localBase/<id> to remoteBase/<id> for every (host,
// id) pair concurrently. A per-pair failure is logged and does not
// cancel the others; the collective results are returned once every
// pair has finished so callers can decide whether to treat partial
// failure as fatal (C6 does not: it proceeds to C5 regardless).
func UploadAll(pairs []Pair, localBase, remoteBase string) []Result {
	results := make([]Result, len(pairs))
	sem := make(chan struct{}, maxConcurrentPairs)
	var wg sync.WaitGroup

	for i, pair := range pairs {
		wg.Add(1)
		go func(idx int, p Pair) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			timer := metrics.NewTimer()
			err := uploadOne(p, localBase, remoteBase)
			timer.ObserveDuration(metrics.UploadDuration)

			label := "ok"
			if err != nil {
				label = "error"
				log.WithHost(p.Host.Host).Warn().Err(err).Str("image_id", p.ImageID).Msg("upload failed")
			}
			metrics.UploadTotal.WithLabelValues(label).Inc()

			results[idx] = Result{Pair: p, Err: err}
		}(i, pair)
	}

	wg.Wait()
	return results
}

func uploadOne(pair Pair, localBase, remoteBase string) error {
	client, err := sshtransport.Connect(context.Background(), pair.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	sc, err := client.SFTP()
	if err != nil {
		return fmt.Errorf("%w: open sftp: %v", chesserr.ErrUploadFailed, err)
	}
	defer sc.Close()

	local := filepath.Join(localBase, pair.ImageID)
	remote := filepath.ToSlash(filepath.Join(remoteBase, pair.ImageID))

	if exists, err := remoteExists(sc, remote); err != nil {
		return fmt.Errorf("%w: stat %s: %v", chesserr.ErrUploadFailed, remote, err)
	} else if exists {
		log.WithHost(pair.Host.Host).Debug().Str("remote", remote).Msg("remote folder already present, skipping upload")
		return nil
	}

	return uploadFolder(sc, local, remote)
}

func uploadFolder(sc *sftp.Client, localDir, remoteDir string) error {
	if err := ensureRemoteDir(sc, remoteDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", chesserr.ErrUploadFailed, localDir, err)
	}

	for _, entry := range entries {
		localPath := filepath.Join(localDir, entry.Name())
		remotePath := remoteDir + "/" + entry.Name()

		if entry.IsDir() {
			if err := uploadFolder(sc, localPath, remotePath); err != nil {
				return err
			}
			continue
		}

		if exists, err := remoteExists(sc, remotePath); err != nil {
			return fmt.Errorf("%w: stat %s: %v", chesserr.ErrUploadFailed, remotePath, err)
		} else if exists {
			continue
		}

		if err := uploadFile(sc, localPath, remotePath); err != nil {
			return err
		}
	}

	return nil
}

func uploadFile(sc *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", chesserr.ErrUploadFailed, localPath, err)
	}
	defer src.Close()

	dst, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", chesserr.ErrUploadFailed, remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copy %s: %v", chesserr.ErrUploadFailed, remotePath, err)
	}
	return nil
}

// remoteExists reports whether remotePath exists, treating "no such
// file" as a clean false rather than an error.
func remoteExists(sc *sftp.Client, remotePath string) (bool, error) {
	_, err := sc.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ensureRemoteDir walks remoteDir component by component from the
// root, creating each ancestor that doesn't already exist. mkdir on an
// already-existing directory is treated as success.
func ensureRemoteDir(sc *sftp.Client, remoteDir string) error {
	parts := splitRemotePath(remoteDir)
	current := ""
	for _, part := range parts {
		current += "/" + part
		if _, err := sc.Stat(current); err == nil {
			continue
		}
		if err := sc.Mkdir(current); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: mkdir %s: %v", chesserr.ErrUploadFailed, current, err)
		}
	}
	return nil
}

func splitRemotePath(remoteDir string) []string {
	trimmed := strings.Trim(remoteDir, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
