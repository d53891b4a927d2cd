/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/usage"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/config"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or remove the usage cache of a space",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print metadata of the cached usage index",
		Args:  cobra.NoArgs,
		RunE:  runCacheShow,
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached usage index",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
	for _, c := range []*cobra.Command{showCmd, clearCmd} {
		addCacheFlags(c.Flags())
		cmd.AddCommand(c)
	}
	return cmd
}

func addCacheFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("space-id", "", "Space id (env "+config.EnvSpaceID+")")
	fs.String("cache-directory", def.CacheDirectory, "Where usage caches are kept")
	fs.Duration("cache-max-age", def.CacheMaxAge, "Age after which a cache is stale (0 = no limit)")
}

// cacheInfo is what `cache show` prints.
type cacheInfo struct {
	SpaceID     string `yaml:"space_id"`
	Path        string `yaml:"path"`
	Status      string `yaml:"status"`
	Reason      string `yaml:"reason,omitempty"`
	CreatedAt   string `yaml:"created_at,omitempty"`
	Age         string `yaml:"age,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	Assets      int    `yaml:"assets"`
	References  int    `yaml:"references"`
}

func loadCacheConfig(cmd *cobra.Command) (config.Config, *usage.Store, error) {
	cfg, err := config.Read(cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.ValidateSpace(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, usage.NewStore(cfg.CacheDirectory), nil
}

func runCacheShow(cmd *cobra.Command, _ []string) error {
	cfg, store, err := loadCacheConfig(cmd)
	if err != nil {
		return err
	}
	path, err := store.Path(cfg.SpaceID)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	info := cacheInfo{SpaceID: cfg.SpaceID, Path: path}
	ix, loadErr := store.Load(cfg.SpaceID)
	switch {
	case errors.Is(loadErr, usage.ErrCacheMiss):
		info.Status = "missing"
	case usage.IsInvalid(loadErr):
		info.Status = "invalid"
		info.Reason = loadErr.Error()
	case loadErr != nil:
		return loadErr
	default:
		age := ix.Age(time.Now())
		info.Status = "valid"
		if cfg.CacheMaxAge > 0 && age > cfg.CacheMaxAge {
			info.Status = "expired"
		}
		info.CreatedAt = ix.CreatedAt.Format(time.RFC3339)
		info.Age = age.Truncate(time.Second).String()
		info.Fingerprint = ix.Fingerprint
		info.Assets = len(ix.Assets)
		info.References = len(ix.References)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(info); err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if info.Status == "invalid" {
		return loadErr
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cfg, store, err := loadCacheConfig(cmd)
	if err != nil {
		return err
	}
	if err := store.Clear(cfg.SpaceID); err != nil {
		return err
	}
	logger.Info("Usage cache cleared", logger.String("space_id", cfg.SpaceID))
	fmt.Fprintf(cmd.OutOrStdout(), "cache cleared for space %s\n", cfg.SpaceID)
	return nil
}
