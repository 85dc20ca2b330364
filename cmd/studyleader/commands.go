// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/studyleader/pkg/logging"
	"github.com/AleutianAI/studyleader/services/studyleader"
)

var (
	rootCmd = &cobra.Command{
		Use:           "studyleader",
		Short:         "An AI study leader served over HTTP",
		Long:          `Study leader opens study sessions backed by a remote AI assistant that guides students without handing out answers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), studyleader.Version)
		},
	}

	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := studyleader.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := studyleader.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	slog.Info("Starting study leader", "version", studyleader.Version, "port", cfg.Port, "public_url", cfg.PublicURL)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("study leader: %w", err)
	}
	slog.Info("Study leader stopped")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := studyleader.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.OpenAI.APIKey != "" {
		cfg.OpenAI.APIKey = "REDACTED"
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func newLogger(cfg studyleader.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatAuto
	if cfg.JSON {
		format = logging.FormatJSON
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: studyleader.ServiceName,
		Format:  format,
		LogDir:  cfg.Dir,
	}), nil
}
