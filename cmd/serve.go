package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/pipeline"
	"github.com/mnocc/vigilance-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(st, cfg.Pipeline.Source)
		router := newRouter(st, p, cfg.Pipeline.ZoneWorkers)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// scoreReader is the slice of the store the API reads from.
type scoreReader interface {
	ListIndicators(ctx context.Context, filter store.ScoreFilter) ([]model.RiskIndicatorRecord, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}

// runner triggers one pipeline pass; *pipeline.Pipeline satisfies it.
type runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*model.RunSummary, error)
}

func newRouter(st scoreReader, p runner, zoneWorkers int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ValidDate string `json:"valid_date"`
			DryRun    bool   `json:"dry_run"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}

		opts := pipeline.Options{DryRun: body.DryRun, ZoneWorkers: zoneWorkers}
		if body.ValidDate != "" {
			d, err := time.Parse(model.DateLayout, body.ValidDate)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "valid_date must be YYYY-MM-DD"})
				return
			}
			opts.ValidDate = d
			opts.Now = d.Add(24*time.Hour - time.Second)
		}

		summary, err := p.Run(req.Context(), opts)
		if err != nil {
			zap.L().Error("api run failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "pipeline run failed"})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Get("/api/scores/latest", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()

		filter := store.ScoreFilter{
			IndicatorCode: q.Get("indicator"),
			ValidDate:     q.Get("date"),
			AdminCode:     q.Get("zone"),
		}
		if riskParam := q.Get("risk"); riskParam != "" {
			risk, err := model.ParseRisk(riskParam)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown risk"})
				return
			}
			filter.Risk = risk
		}
		if limitParam := q.Get("limit"); limitParam != "" {
			limit, err := strconv.Atoi(limitParam)
			if err != nil || limit <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			filter.Limit = limit
		}

		records, err := st.ListIndicators(req.Context(), filter)
		if err != nil {
			zap.L().Error("api list scores failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(records),
			"scores": records,
		})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if limitParam := req.URL.Query().Get("limit"); limitParam != "" {
			n, err := strconv.Atoi(limitParam)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		runs, err := st.ListRuns(req.Context(), limit)
		if err != nil {
			zap.L().Error("api list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(runs),
			"runs":  runs,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
