package cli

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/config"
	"github.com/matzehuels/comfyaudit/pkg/errors"
	"github.com/matzehuels/comfyaudit/pkg/history"
)

// serveCommand creates the serve command exposing runs over HTTP.
func (c *CLI) serveCommand() *cobra.Command {
	var p serveParams

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded audit runs over HTTP",
		Long: `Serve the run history as a small JSON API:

  GET /healthz             liveness check
  GET /api/runs            run summaries, newest first (?limit=N)
  GET /api/runs/{run_id}   one run's full result
  POST /api/audit          run a fresh audit and return its result

The audit endpoint skips pip probing unless ?probe=true is given, since
a probing audit can take minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVarP(&p.bind, "bind", "b", ":8420", "address to listen on")
	cmd.Flags().BoolVar(&p.noCache, "no-cache", false, "disable caching")

	return cmd
}

type serveParams struct {
	bind    string
	noCache bool
}

// runServe builds the router and serves until the context is canceled.
func (c *CLI) runServe(ctx context.Context, p serveParams) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	store, err := c.newHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	s := &apiServer{cli: c, cfg: cfg, store: store, noCache: p.noCache}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{runID}", s.getRun)
		r.Post("/audit", s.runAudit)
	})

	srv := &http.Server{Addr: p.bind, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		c.Logger.Info("serving audit API", "bind", p.bind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		printNewline()
		printInfo("Server stopped")
		return ctx.Err()
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeNetwork, err, "serving on %s", p.bind)
	}
}

// apiServer carries the handlers' shared dependencies.
type apiServer struct {
	cli     *CLI
	cfg     *config.Config
	store   history.Store
	noCache bool
}

// listRuns handles GET /api/runs.
func (s *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			limit = n
		}
	}
	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// getRun handles GET /api/runs/{runID}.
func (s *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// runAudit handles POST /api/audit: one synchronous audit, recorded in
// history like a CLI run.
func (s *apiServer) runAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := auditOptions(s.cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireAuditable(opts); err != nil {
		writeError(w, err)
		return
	}
	opts.SkipProbe = r.URL.Query().Get("probe") != "true"
	opts.Refresh = r.URL.Query().Get("refresh") == "true"

	env, err := s.cli.newRunner(r.Context(), s.cfg, s.noCache)
	if err != nil {
		writeError(w, err)
		return
	}
	defer env.Close()

	result, err := env.Run(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Save(r.Context(), result); err != nil {
		s.cli.Logger.Warn("could not record run", "run_id", result.RunID, "err", err)
	}
	writeJSON(w, http.StatusOK, result)
}

// writeJSON renders v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = renderJSON(w, v)
}

// writeError maps an error code onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeRunNotFound, errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidConfig, errors.ErrCodeInvalidPath, errors.ErrCodeInvalidPackage:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"code":  string(errors.GetCode(err)),
		"error": err.Error(),
	})
}
