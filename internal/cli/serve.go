package cli

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpuauction/auctiond/internal/api"
	"github.com/gpuauction/auctiond/internal/applog"
	"github.com/gpuauction/auctiond/internal/auth"
	"github.com/gpuauction/auctiond/internal/calendar"
	"github.com/gpuauction/auctiond/internal/daemon"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/engine"
	"github.com/gpuauction/auctiond/internal/infra/sqlite"
	"github.com/gpuauction/auctiond/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "path to a TOML config file")
	serveCmd.Flags().Bool("metrics", true, "mount /metrics")
	serveCmd.Flags().String("archive", "", "path to a SQLite archive DB (disabled if empty)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auctiond HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsEnabled, _ := cmd.Flags().GetBool("metrics")
		archivePath, _ := cmd.Flags().GetString("archive")

		cfg, err := daemon.Load(configPath)
		if err != nil {
			return err
		}

		_, statErr := os.Stat(cfg.Store.Path)
		firstBoot := os.IsNotExist(statErr)
		st := store.New(cfg.Store.Path)
		state, err := st.Load()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if daemon.ForceReset() {
			state.Days = make(map[string]*domain.Day)
		}
		if firstBoot && cfg.Calendar.TransitionHour != 0 {
			state.Config.TransitionHour = cfg.Calendar.TransitionHour
		}

		cal := calendar.New()
		clock := domain.ClockFunc(time.Now)
		eng := engine.New(state, st, clock, cal)
		eng.SetBulkReleaseRefund(cfg.Credit.BulkReleaseRefund)

		if archivePath != "" {
			db, err := sqlite.Open(archivePath)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			eng.SetArchive(db)
		}

		if err := eng.UpdateSystemState(); err != nil {
			return fmt.Errorf("update system state: %w", err)
		}

		sessions := auth.NewManager(clock)
		token := os.Getenv(cfg.Telemetry.TokenEnv)
		srv := api.NewServer(eng, sessions, token)
		if metricsEnabled {
			srv.EnableMetrics()
		}

		port := daemon.PortFromEnv(cfg)
		addr := cfg.Server.Host + ":" + strconv.Itoa(port)
		applog.Infof("listening on %s", addr)
		return http.ListenAndServe(addr, srv.Handler())
	},
}
