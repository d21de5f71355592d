package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/update"
)

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and download new releases",
	}

	cmd.PersistentFlags().StringVar(&cfg.ManifestURL, "manifest-url", cfg.ManifestURL, "Update manifest URL")

	cmd.AddCommand(updateCheckCmd())
	cmd.AddCommand(updateInstallCmd())

	return cmd
}

func updateCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is published",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			checker := update.NewChecker(Version, logger)
			m, available := checker.Check(context.Background(), cfg.ManifestURL)
			if m == nil {
				fmt.Println("Could not check for updates.")
				return nil
			}

			if !available {
				fmt.Printf("You are running the latest version (%s, latest %s).\n", Version, m.LatestVersion)
				return nil
			}

			fmt.Printf("Version %s is available (running %s).\n", m.LatestVersion, Version)
			if m.Changelog != "" {
				fmt.Printf("\n%s\n", m.Changelog)
			}
			fmt.Printf("\nPackage: %s\n", m.PackageURL)
			return nil
		},
	}
}

func updateInstallCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the latest release and hand it to the installer",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			checker := update.NewChecker(Version, logger)
			m, available := checker.Check(ctx, cfg.ManifestURL)
			if m == nil {
				return fmt.Errorf("could not fetch the update manifest")
			}
			if !available && !force {
				fmt.Printf("You are running the latest version (%s).\n", Version)
				return nil
			}

			installer := update.NewInstaller(
				afero.NewOsFs(),
				cfg.DownloadDir,
				cfg.PackagePrefix,
				update.AllowInstall(cfg.InstallAllowed),
				update.LogHandoff{Logger: logger},
				logger,
			)

			d := installer.Start(ctx, m.PackageURL)
			final := d.Watch(ctx, update.DefaultPollInterval, func(s models.DownloadState) {
				if s.IsActive() {
					fmt.Printf("\rDownloading %s: %3d%%", m.LatestVersion, s.Progress)
				}
			})
			fmt.Println()

			switch final.Phase {
			case models.DownloadSucceeded:
				fmt.Printf("Downloaded %s to %s\n", m.LatestVersion, final.File)
				return nil
			case models.DownloadFailed:
				return fmt.Errorf("download failed: %s", final.Reason)
			default:
				return fmt.Errorf("download interrupted")
			}
		},
	}

	cmd.Flags().StringVar(&cfg.DownloadDir, "download-dir", cfg.DownloadDir, "Directory for downloaded packages")
	cmd.Flags().BoolVar(&cfg.InstallAllowed, "allow-install", cfg.InstallAllowed, "Allow installing downloaded packages")
	cmd.Flags().BoolVar(&force, "force", false, "Download even if no newer version is published")

	return cmd
}
