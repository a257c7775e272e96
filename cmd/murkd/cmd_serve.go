package main

import (
	"strconv"
	"strings"

	"barn/config"
	"barn/logging"
	"barn/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and telnet/MCP listener",
	Long:  `Loads the object database and runs the event loop until interrupted.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		port, err := strconv.Atoi(strings.TrimPrefix(cfg.ListenAddr, ":"))
		if err != nil {
			return err
		}

		srv, err := server.NewServer(cfg.DBPath, port, cfg.CheckpointSecs)
		if err != nil {
			return err
		}
		if err := srv.LoadDatabase(); err != nil {
			return err
		}

		logging.Printf("Starting murkd (db=%s)", cfg.DBPath)
		return srv.Start()
	},
}
