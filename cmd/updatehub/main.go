/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/OSSystems/pkg/log"

	"github.com/OSSystems/updatehub/activeinactive"
	"github.com/OSSystems/updatehub/callback"
	"github.com/OSSystems/updatehub/cloudclient"
	"github.com/OSSystems/updatehub/localapi"
	"github.com/OSSystems/updatehub/logger"
	"github.com/OSSystems/updatehub/metadata"
	"github.com/OSSystems/updatehub/object"
	"github.com/OSSystems/updatehub/runtimesettings"
	"github.com/OSSystems/updatehub/settings"
	"github.com/OSSystems/updatehub/startup"
	"github.com/OSSystems/updatehub/stepper"
	"github.com/OSSystems/updatehub/updatehub"
)

var settingsPath string

const requestShutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "updatehub",
	Short: "On-device firmware update agent",
	Long: `updatehub is a daemon that polls a cloud update server, validates and
downloads update packages, and installs them to the device's inactive
bank before rebooting into it.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", settings.DefaultPath, "path to the agent configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logBuffer := logger.Install(logrus.StandardLogger(), 1024)

	cfg, err := settings.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fsBackend := afero.NewOsFs()

	if err := fsBackend.MkdirAll(cfg.Update.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	rs, err := runtimesettings.Load(fsBackend, cfg.Storage.RuntimeSettingsPath, !cfg.Storage.ReadOnly)
	if err != nil {
		return fmt.Errorf("failed to load runtime settings: %w", err)
	}

	fw, err := metadata.FromPath(fsBackend, cfg.Firmware.MetadataPath)
	if err != nil {
		return fmt.Errorf("failed to load firmware metadata: %w", err)
	}

	aii, err := activeinactive.NewFileBackend(fsBackend, cfg.Firmware.MetadataPath+"/active")
	if err != nil {
		return fmt.Errorf("failed to open installation-set backend: %w", err)
	}

	validateCallback := callback.NewValidateCallback(cfg.Firmware.MetadataPath)
	rollbackCallback := callback.NewRollbackCallback(cfg.Firmware.MetadataPath)
	if err := startup.Run(&rs, aii, validateCallback, rollbackCallback); err != nil {
		return fmt.Errorf("fatal startup callback error: %w", err)
	}

	publicKeyPath := cfg.Firmware.MetadataPath + "/public.pem"
	requireSigned := false
	var publicKeyPEM []byte
	if data, err := afero.ReadFile(fsBackend, publicKeyPath); err == nil {
		publicKeyPEM, requireSigned = data, true
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	shared := &updatehub.SharedState{
		Settings:        cfg,
		RuntimeSettings: rs,
		Firmware:        *fw,
		FSBackend:       fsBackend,
		ActiveInactive:  aii,
		Registry:        object.NewRegistry(),
		LogBuffer:       logBuffer,
		NewCloudClient: func(server string) *cloudclient.Client {
			return cloudclient.New(server, fsBackend)
		},
		RequireSignedUpdates: requireSigned,
		PublicKeyPEM:         publicKeyPEM,
		StateChangeCallback:  callback.NewStateChangeCallback(cfg.Firmware.MetadataPath),
	}

	step := stepper.New(shared)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := step.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("stepper exited unexpectedly: ", err)
			os.Exit(1)
		}
	}()

	api := localapi.New(step, fw)
	server := &http.Server{Addr: cfg.Network.ListenSocket, Handler: api}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), requestShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("local api shutdown error: ", err)
		}
	}()

	log.WithFields(map[string]interface{}{"listen": cfg.Network.ListenSocket}).Info("starting local api")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("local api server failed: %w", err)
	}

	return nil
}
