package cleanup

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

	"golang.org/x/sync/errgroup"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/safeio"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/storyblok"
)

// ErrAborted is returned when a failed backup stops the run because
// continuing after download failures is disabled.
var ErrAborted = errors.New("pipeline aborted")

// Stage is the pipeline step an outcome belongs to.
type Stage string

const (
	StageBackup Stage = "backup"
	StageDelete Stage = "delete"
)

// Status is the result of one stage for one asset.
type Status string

const (
	StatusBackedUp        Status = "backed_up"
	StatusAlreadyBackedUp Status = "already_backed_up"
	StatusBackupFailed    Status = "backup_failed"
	StatusDeleted         Status = "deleted"
	StatusDeleteFailed    Status = "delete_failed"
	StatusKept            Status = "kept"
)

// Outcome reports one stage of one asset.
type Outcome struct {
	Asset      catalog.Asset
	Stage      Stage
	Status     Status
	BackupPath string
	Bytes      int64
	Err        error
}

// OutcomeSink receives outcomes as they happen. Calls are serialised.
type OutcomeSink func(Outcome)

// Remote is what the pipeline needs from the CMS.
type Remote interface {
	DownloadAsset(ctx context.Context, assetURL string, w io.Writer) (int64, error)
	DeleteAsset(ctx context.Context, id int64) error
}

// PipelineOptions control what the pipeline does to each asset.
type PipelineOptions struct {
	SpaceID                   string
	Backup                    bool
	BackupDir                 string
	Delete                    bool
	ContinueOnDownloadFailure bool
	Concurrency               int
}

// Summary counts what happened. Ignored is carried over from the resolution.
type Summary struct {
	Ignored      int `json:"ignored"`
	BackedUp     int `json:"backed_up"`
	BackupFailed int `json:"backup_failed"`
	Deleted      int `json:"deleted"`
	DeleteFailed int `json:"delete_failed"`
	Kept         int `json:"kept"`
	NotProcessed int `json:"not_processed"`

	DeletedIDs []int64 `json:"-"`
}

// Pipeline backs up and deletes unused assets.
type Pipeline struct {
	Remote  Remote
	Options PipelineOptions
	Sink    OutcomeSink

	mu      sync.Mutex
	summary Summary
	claims  map[string]int64
}

// NewPipeline returns a pipeline that reports to sink, which may be nil.
func NewPipeline(remote Remote, opts PipelineOptions, sink OutcomeSink) *Pipeline {
	return &Pipeline{Remote: remote, Options: opts, Sink: sink}
}

// Run processes the unused assets of res in resolver order.
//
// An asset is deleted only after its backup succeeded, or when backups are
// off. A failed backup keeps the asset; when ContinueOnDownloadFailure is
// false it also stops the run with ErrAborted and later assets are left
// untouched. Exactly one worker runs in that mode so "later" is well defined.
// Cancelling ctx stops new work; in-flight downloads and deletes finish or
// fail on their own.
func (p *Pipeline) Run(ctx context.Context, res Resolution) (Summary, error) {
	unused := res.Unused()
	p.summary = Summary{Ignored: len(res.Ignored)}
	p.claims = make(map[string]int64)

	workers := p.Options.Concurrency
	if workers < 1 || !p.Options.ContinueOnDownloadFailure {
		workers = 1
	}

	processed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, a := range unused {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			p.mu.Lock()
			processed++
			p.mu.Unlock()
			return p.process(gctx, a)
		})
	}
	err := g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	sum := p.summary
	sum.NotProcessed = len(unused) - processed
	if err == nil {
		err = ctx.Err()
	}
	return sum, err
}

func (p *Pipeline) process(ctx context.Context, a catalog.Asset) error {
	if p.Options.Backup {
		dest, n, existed, err := p.backup(ctx, a)
		if err != nil {
			p.emit(Outcome{Asset: a, Stage: StageBackup, Status: StatusBackupFailed, BackupPath: dest, Err: err})
			if !p.Options.ContinueOnDownloadFailure {
				return fmt.Errorf("%w: backup of asset %d failed: %w", ErrAborted, a.ID, err)
			}
			return nil
		}
		status := StatusBackedUp
		if existed {
			status = StatusAlreadyBackedUp
		}
		p.emit(Outcome{Asset: a, Stage: StageBackup, Status: status, BackupPath: dest, Bytes: n})
	}

	if !p.Options.Delete {
		p.emit(Outcome{Asset: a, Stage: StageDelete, Status: StatusKept})
		return nil
	}

	if err := p.Remote.DeleteAsset(ctx, a.ID); err != nil {
		if errors.Is(err, storyblok.ErrNotFound) {
			logger.Warn("asset already gone", logger.Int64("asset_id", a.ID))
			p.emit(Outcome{Asset: a, Stage: StageDelete, Status: StatusDeleted})
			return nil
		}
		p.emit(Outcome{Asset: a, Stage: StageDelete, Status: StatusDeleteFailed, Err: err})
		return nil
	}
	p.emit(Outcome{Asset: a, Stage: StageDelete, Status: StatusDeleted})
	return nil
}

func (p *Pipeline) emit(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch o.Status {
	case StatusBackedUp, StatusAlreadyBackedUp:
		p.summary.BackedUp++
	case StatusBackupFailed:
		p.summary.BackupFailed++
	case StatusDeleted:
		p.summary.Deleted++
		p.summary.DeletedIDs = append(p.summary.DeletedIDs, o.Asset.ID)
	case StatusDeleteFailed:
		p.summary.DeleteFailed++
	case StatusKept:
		p.summary.Kept++
	}
	if p.Sink != nil {
		p.Sink(o)
	}
}

// backup downloads a into its backup path. It reports the path, the byte
// count, and whether a matching file was already there.
func (p *Pipeline) backup(ctx context.Context, a catalog.Asset) (string, int64, bool, error) {
	dest, existed, err := p.reserve(a)
	if err != nil {
		return dest, 0, false, err
	}
	if existed {
		logger.Debug("asset already backed up", logger.Int64("asset_id", a.ID), logger.String("path", dest))
		return dest, a.SizeBytes, true, nil
	}

	logger.Debug("downloading asset", logger.Int64("asset_id", a.ID), logger.String("path", dest))
	pr, pw := io.Pipe()
	go func() {
		_, err := p.Remote.DownloadAsset(ctx, a.ContentURL, pw)
		_ = pw.CloseWithError(err)
	}()
	n, err := safeio.CopyAtomic(dest, pr, 0o644)
	_ = pr.Close()
	if err != nil {
		return dest, n, false, err
	}
	if a.SizeBytes > 0 && n != a.SizeBytes {
		logger.Warn("backup size differs from asset size",
			logger.Int64("asset_id", a.ID),
			logger.Int64("expected", a.SizeBytes),
			logger.Int64("written", n))
	}
	return dest, n, false, nil
}

// BackupPath is where an asset is stored when nothing else claims the spot:
// {backup_dir}/{space_id}/{folder path}/{filename}.
func BackupPath(backupDir, spaceID string, a catalog.Asset) (string, error) {
	segments := []string{spaceID}
	segments = append(segments, strings.Split(strings.Trim(a.FolderPath, "/"), "/")...)
	name := a.Filename
	if name == "" {
		name = a.Key()
	}
	segments = append(segments, name)
	return safeio.JoinContained(backupDir, segments...)
}

// alternatePath inserts the asset id before the extension.
func alternatePath(primary string, id int64) string {
	ext := filepath.Ext(primary)
	stem := strings.TrimSuffix(primary, ext)
	return fmt.Sprintf("%s-%d%s", stem, id, ext)
}

// reserve picks the backup path of a and claims it for this run. A non-empty
// file of the asset's size (or any non-empty file when the size is unknown)
// counts as an earlier backup. A path held by a different file, or claimed by
// another asset in this run, falls back to the id-suffixed name.
func (p *Pipeline) reserve(a catalog.Asset) (string, bool, error) {
	primary, err := BackupPath(p.Options.BackupDir, p.Options.SpaceID, a)
	if err != nil {
		return "", false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, candidate := range []string{primary, alternatePath(primary, a.ID)} {
		if owner, taken := p.claims[candidate]; taken && owner != a.ID {
			continue
		}
		fi, err := os.Stat(candidate)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			p.claims[candidate] = a.ID
			return candidate, false, nil
		case err != nil:
			return candidate, false, err
		case !fi.Mode().IsRegular():
			continue
		case fi.Size() == 0:
			p.claims[candidate] = a.ID
			return candidate, false, nil
		case a.SizeBytes <= 0 || fi.Size() == a.SizeBytes:
			p.claims[candidate] = a.ID
			return candidate, true, nil
		}
	}
	return primary, false, fmt.Errorf("no free backup path for asset %d", a.ID)
}
