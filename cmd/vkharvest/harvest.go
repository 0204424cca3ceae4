package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vkharvest/pkg/auth"
	"vkharvest/pkg/config"
	"vkharvest/pkg/harvester"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/mentions"
	"vkharvest/pkg/pager"
	"vkharvest/pkg/profiles"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/state"
	"vkharvest/pkg/targets"
	"vkharvest/pkg/vk"
)

var (
	// Harvest command flags
	language    string
	outputDir   string
	targetList  string
	batchWidth  int
	overwrite   bool
	accessToken string
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Download the walls of every account in a target list",
	Long: `Download complete wall histories for every account in a target list.

The target list is a text file of vk.com wall URLs, one per line
(extra comma-separated columns are ignored). By default it is read
from <output>/<language>_vk_urls.txt.

An access token is required and resolved in this order:
  - the --access-token flag
  - the VKHARVEST_ACCESS_TOKEN environment variable
  - a token stored with 'vkharvest auth login'

Accounts whose snapshot file already exists are skipped, so an
interrupted run can simply be started again.`,
	Example: `  # Harvest the Dutch target list into ./corpus
  vkharvest harvest --language nl --output ./corpus

  # Use an explicit target list and start batches narrow
  vkharvest harvest --language kv --targets ./urls.txt --batch-width 10

  # Re-fetch accounts that already have snapshots
  vkharvest harvest --language nl --overwrite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runHarvest(cmd.Context())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().StringVarP(&language, "language", "l", "", "corpus language code (required unless set in config)")
	harvestCmd.Flags().StringVarP(&outputDir, "output", "o", "", "base output directory (default: current directory)")
	harvestCmd.Flags().StringVarP(&targetList, "targets", "t", "", "target list file (default: <output>/<language>_vk_urls.txt)")
	harvestCmd.Flags().IntVar(&batchWidth, "batch-width", 0, "initial page calls per execute script (max 25)")
	harvestCmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-fetch accounts that already have snapshots")
	harvestCmd.Flags().StringVar(&accessToken, "access-token", "", "VK access token (overrides stored tokens)")
}

func runHarvest(parent context.Context) {
	flags := make(map[string]interface{})
	if language != "" {
		flags["language"] = language
	}
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if targetList != "" {
		flags["targets"] = targetList
	}
	if batchWidth > 0 {
		flags["batch-width"] = batchWidth
	}
	if overwrite {
		flags["overwrite"] = true
	}
	if accessToken != "" {
		flags["access-token"] = accessToken
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	// Fall back to the token store when neither flag nor env provided one
	if cfg.VK.AccessToken == "" {
		manager, err := auth.NewManager()
		if err == nil {
			if token, err := manager.RetrieveDefault(); err == nil {
				cfg.VK.AccessToken = token.AccessToken
				if token.APIVersion != "" {
					cfg.VK.APIVersion = token.APIVersion
				}
			}
		}
	}
	if cfg.VK.AccessToken == "" {
		log.Error("no access token available")
		fmt.Fprintln(os.Stderr, "No access token. Provide --access-token, set VKHARVEST_ACCESS_TOKEN, or run 'vkharvest auth login'.")
		os.Exit(1)
	}

	names, err := targets.Read(cfg.TargetListPath())
	if err != nil {
		log.WithError(err).Error("failed to read target list")
		os.Exit(1)
	}
	if len(names) == 0 {
		log.WithField("file", cfg.TargetListPath()).Warn("target list is empty, nothing to do")
		return
	}

	store, err := state.NewStore(&cfg.Output, log)
	if err != nil {
		log.WithError(err).Error("failed to prepare output directories")
		os.Exit(1)
	}

	gate := ratelimit.NewGate(cfg.RateLimit.RequestInterval, cfg.RateLimit.CooldownEvery, cfg.RateLimit.CooldownDelay)
	client := vk.NewClient(&cfg.VK, gate, log)
	pg := pager.New(&cfg.Harvest, log)
	cache := profiles.NewCache(client, cfg.Harvest.ProfileBatchSize, log)
	registry := mentions.NewRegistry()

	h := harvester.New(client, pg, cache, registry, store, cfg, log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(map[string]interface{}{
		"language": cfg.Output.Language,
		"targets":  len(names),
	}).Info("harvest starting")

	stats, err := h.Run(ctx, names)
	if err != nil {
		log.WithError(err).Error("harvest aborted")
		os.Exit(1)
	}
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
