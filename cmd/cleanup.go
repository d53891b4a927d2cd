/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/cleanup"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/refs"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/usage"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/config"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/storyblok"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func newCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Report unused assets, then back them up and delete them",
		Long: `cleanup lists every asset and story of the space, reports the assets no story
references and, after confirmation, backs them up and deletes them.

Without --delete the run only backs up. With --no-backup and without --delete
it is a dry run that stops after the report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, false)
		},
	}
	addSpaceFlags(cmd.Flags())
	addScanFlags(cmd.Flags())
	addPipelineFlags(cmd.Flags())
	return cmd
}

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the unused asset report without touching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, true)
		},
	}
	addSpaceFlags(cmd.Flags())
	addScanFlags(cmd.Flags())
	return cmd
}

func addSpaceFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("token", "", "Personal access token (env "+config.EnvToken+")")
	fs.String("space-id", "", "Space id (env "+config.EnvSpaceID+")")
	fs.String("region", def.Region, "Space region ("+strings.Join(storyblok.RegionNames(), "|")+")")
	fs.String("api-base-url", "", "Override the management API URL")
	_ = fs.MarkHidden("api-base-url")
	fs.Bool("cache", def.Cache, "Use the usage cache")
	fs.Bool("no-cache", false, "Always rescan stories")
	fs.String("cache-directory", def.CacheDirectory, "Where usage caches are kept")
}

func addScanFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.Duration("cache-max-age", def.CacheMaxAge, "Rescan when the cache is older (0 = no limit)")
	fs.StringArray("ignore-path", nil, "Keep assets of this exact folder path (repeatable)")
	fs.StringArray("ignore-word", nil, "Keep assets whose filename contains this word (repeatable)")
	fs.StringArray("ignore-glob", nil, "Keep assets whose folder path matches this glob (repeatable)")
	fs.Int("concurrency", def.Concurrency, "Parallel requests and workers")
	fs.Int("per-page", def.PerPage, "Page size for list requests")
	fs.String("format", string(cleanup.FormatText), "Report format (text|tree|json)")
}

func addPipelineFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.Bool("delete", def.Delete, "Delete unused assets")
	fs.Bool("no-delete", false, "Do not delete")
	fs.Bool("backup", def.Backup, "Back up unused assets before deleting")
	fs.Bool("no-backup", false, "Skip backups")
	fs.String("backup-directory", def.BackupDirectory, "Where backups are written")
	fs.Bool("continue-on-download-failure", def.ContinueOnDownloadFailure, "Keep going when a backup download fails")
	fs.Bool("no-continue-on-download-failure", false, "Stop at the first failed backup")
	fs.BoolP("yes", "y", false, "Do not ask for confirmation")
}

// runCleanup drives one run. reportOnly forces a dry run.
func runCleanup(cmd *cobra.Command, reportOnly bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if reportOnly {
		cfg.Backup = false
		cfg.Delete = false
	}
	format, err := cleanup.ParseFormat(stringFlag(cmd, "format"))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	filters := cleanup.Filters{
		FolderPaths:   cfg.IgnorePaths,
		FilenameWords: cfg.IgnoreWords,
		FolderGlobs:   cfg.IgnoreGlobs,
	}
	if err := filters.Validate(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if cfg.Delete && !cfg.Yes && !interactive(cmd.InOrStdin()) {
		return fmt.Errorf("%w: refusing to delete without --yes when stdin is not a terminal", config.ErrInvalid)
	}

	logger.SetDryRun(cfg.DryRun())
	logger.Info("Starting run",
		logger.String("space_id", cfg.SpaceID),
		logger.String("region", cfg.Region),
		logger.Bool("backup", cfg.Backup),
		logger.Bool("delete", cfg.Delete))

	client, err := storyblok.NewClient(storyblok.Options{
		BaseURL:     cfg.BaseURL(),
		SpaceID:     cfg.SpaceID,
		Token:       cfg.Token,
		PerPage:     cfg.PerPage,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	space, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("cannot access space %s: %w", cfg.SpaceID, err)
	}
	logger.Info("Connected", logger.String("space", space.Name), logger.Int64("space_id", space.ID))

	assets, err := fetchCatalog(ctx, client)
	if err != nil {
		return err
	}

	builder := usage.Builder{MaxAge: cfg.CacheMaxAge}
	var store *usage.Store
	if cfg.Cache {
		store = usage.NewStore(cfg.CacheDirectory)
		builder.Cache = store
	}
	scan := func(ctx context.Context, assets []catalog.Asset) (refs.Set, error) {
		stories, err := client.ListStories(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing stories: %w", err)
		}
		logger.Info("Scanning stories", logger.Int("stories", len(stories)))
		return refs.ExtractAll(ctx, refs.NewExtractor(assets), stories, cfg.Concurrency)
	}
	started := time.Now()
	built, err := builder.Build(ctx, cfg.SpaceID, assets, scan)
	if err != nil {
		return err
	}
	logger.Info("Usage index ready",
		logger.Int("references", len(built.References)),
		logger.Bool("from_cache", built.FromCache),
		logger.Duration("elapsed", time.Since(started)))

	res := cleanup.Resolve(assets, built.References, filters)
	rep := cleanup.BuildReport(res)
	if err := cleanup.Render(out, rep, format); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if rep.ToDelete == 0 {
		logger.Info("Nothing to clean up")
		return nil
	}
	if cfg.DryRun() {
		logger.Info("Dry run, nothing was changed")
		return nil
	}

	if cfg.Delete && !cfg.Yes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf(
			"Do you really want to delete %d assets (%s)? (y/n): ", rep.ToDelete, cleanup.Size(rep.TotalBytes)))
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("Deletion declined")
			cfg.Delete = false
			if !cfg.Backup {
				return nil
			}
		}
	}

	sink := progressSink(out, format)
	pipeline := cleanup.NewPipeline(client, cleanup.PipelineOptions{
		SpaceID:                   cfg.SpaceID,
		Backup:                    cfg.Backup,
		BackupDir:                 cfg.BackupDirectory,
		Delete:                    cfg.Delete,
		ContinueOnDownloadFailure: cfg.ContinueOnDownloadFailure,
		Concurrency:               cfg.Concurrency,
	}, sink)
	sum, runErr := pipeline.Run(ctx, res)

	if store != nil && len(sum.DeletedIDs) > 0 {
		if err := store.Forget(cfg.SpaceID, sum.DeletedIDs); err != nil {
			logger.Warn("Could not update usage cache", logger.Err(err))
		}
	}

	logger.Info("Run finished",
		logger.Int("backed_up", sum.BackedUp),
		logger.Int("backup_failed", sum.BackupFailed),
		logger.Int("deleted", sum.Deleted),
		logger.Int("delete_failed", sum.DeleteFailed),
		logger.Int("kept", sum.Kept),
		logger.Int("not_processed", sum.NotProcessed))
	if format != cleanup.FormatJSON {
		fmt.Fprintf(out, "\n%d backed up, %d backup failed, %d deleted, %d delete failed, %d kept, %d ignored, %d not processed\n",
			sum.BackedUp, sum.BackupFailed, sum.Deleted, sum.DeleteFailed, sum.Kept, sum.Ignored, sum.NotProcessed)
	}
	return runErr
}

// fetchCatalog lists assets and folders in parallel and joins them.
func fetchCatalog(ctx context.Context, client *storyblok.Client) ([]catalog.Asset, error) {
	var raw []storyblok.Asset
	var folders []storyblok.AssetFolder
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, err = client.ListAssets(gctx)
		if err != nil {
			return fmt.Errorf("listing assets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		folders, err = client.ListAssetFolders(gctx)
		if err != nil {
			return fmt.Errorf("listing asset folders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	assets, err := catalog.Build(raw, folders)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetched assets", logger.Int("assets", len(assets)), logger.Int("folders", len(folders)))
	return assets, nil
}

// progressSink prints one line per outcome. JSON reports keep stdout clean,
// so their progress goes to the log only.
func progressSink(out io.Writer, format cleanup.Format) cleanup.OutcomeSink {
	return func(o cleanup.Outcome) {
		p := path.Join(o.Asset.FolderPath, o.Asset.Filename)
		if o.Err != nil {
			logger.Warn("Asset not processed",
				logger.Int64("asset_id", o.Asset.ID),
				logger.String("stage", string(o.Stage)),
				logger.Err(o.Err))
		}
		if format == cleanup.FormatJSON {
			logger.Info("Asset processed",
				logger.Int64("asset_id", o.Asset.ID),
				logger.String("status", string(o.Status)),
				logger.String("path", p))
			return
		}
		switch o.Status {
		case cleanup.StatusBackedUp:
			fmt.Fprintf(out, "backed up      %s -> %s (%s)\n", p, o.BackupPath, cleanup.Size(o.Bytes))
		case cleanup.StatusAlreadyBackedUp:
			fmt.Fprintf(out, "backup exists  %s -> %s\n", p, o.BackupPath)
		case cleanup.StatusBackupFailed:
			fmt.Fprintf(out, "backup FAILED  %s: %v\n", p, o.Err)
		case cleanup.StatusDeleted:
			fmt.Fprintf(out, "deleted        %s (id %d)\n", p, o.Asset.ID)
		case cleanup.StatusDeleteFailed:
			fmt.Fprintf(out, "delete FAILED  %s: %v\n", p, o.Err)
		}
	}
}

// interactive is false only for a real stdin that is not a terminal. Readers
// injected by callers count as interactive.
func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

// confirm asks question on out and reads one answer line from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func stringFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
