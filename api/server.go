// Package api exposes the fleet HTTP surface: launching runs, inspecting
// results, and comparing policies.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/events"
	"github.com/fleetsim/fleetsim/store"
)

// Server is the fleet API. It injects run.started events onto the bus and
// reads run results back from the store.
type Server struct {
	cfg    *config.Config
	bus    bus.Bus
	store  *store.Store
	router *gin.Engine
}

// NewServer wires the API routes.
func NewServer(cfg *config.Config, b bus.Bus, st *store.Store) *Server {
	router := gin.Default()
	router.Use(cors.Default())

	s := &Server{cfg: cfg, bus: b, store: st, router: router}
	router.GET("/health", s.health)
	router.POST("/runs", s.createRun)
	router.GET("/runs", s.listRuns)
	router.GET("/runs/:id", s.getRun)
	router.GET("/runs/:id/metrics", s.getRunMetrics)
	router.GET("/compare", s.compare)
	return s
}

// Start blocks serving HTTP on the configured port.
func (s *Server) Start() error {
	return s.router.Run(fmt.Sprintf(":%d", s.cfg.APIPort))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRunRequest struct {
	Mode   string `json:"mode"`
	Seed   *int   `json:"seed"`
	Scale  string `json:"scale"`
	Robots *int   `json:"robots"`
	Jobs   *int   `json:"jobs"`
}

func (s *Server) createRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = s.cfg.DefaultMode
	}
	if req.Scale == "" {
		req.Scale = s.cfg.DefaultScale
	}
	if !config.ValidMode(req.Mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode: " + req.Mode})
		return
	}
	if !config.ValidScale(req.Scale) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scale: " + req.Scale})
		return
	}
	seed := s.cfg.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	runID := uuid.NewString()
	ev := events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, runID, req.Mode, seed, req.Scale, 0),
		Robots:   req.Robots,
		Jobs:     req.Jobs,
	}
	if err := bus.PublishJSON(s.bus, events.KeyRunStarted, ev); err != nil {
		logrus.Errorf("publish run.started failed run_id=%s err=%v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}
	if s.store != nil {
		if err := s.store.CreateRun(runID, req.Mode, seed, req.Scale, req.Robots, req.Jobs); err != nil {
			logrus.Warnf("store run failed run_id=%s err=%v", runID, err)
		}
	}

	logrus.Infof("run requested run_id=%s mode=%s seed=%d scale=%s", runID, req.Mode, seed, req.Scale)
	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"mode":   req.Mode,
		"seed":   seed,
		"scale":  req.Scale,
		"status": "running",
	})
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRunMetrics(c *gin.Context) {
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run.Status != "completed" {
		c.JSON(http.StatusConflict, gin.H{"error": "run not completed", "status": run.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":              run.ID,
		"mode":                run.Mode,
		"seed":                run.Seed,
		"scale":               run.Scale,
		"scenario_hash":       run.ScenarioHash,
		"on_time_rate":        run.OnTimeRate,
		"total_distance":      run.TotalDistance,
		"avg_completion_time": run.AvgCompletionTime,
		"max_lateness":        run.MaxLateness,
		"completed_jobs":      run.CompletedJobs,
		"failed_jobs":         run.FailedJobs,
		"total_jobs":          run.TotalJobs,
	})
}

// compare returns the latest completed baseline and GA runs for one scenario
// side by side. seed and scale are required so the two runs share a world;
// robots/jobs narrow the match to runs launched with those overrides.
func (s *Server) compare(c *gin.Context) {
	seedRaw := c.Query("seed")
	scale := c.Query("scale")
	if seedRaw == "" || scale == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seed and scale query params are required"})
		return
	}
	seed, err := strconv.Atoi(seedRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seed"})
		return
	}
	if !config.ValidScale(scale) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scale: " + scale})
		return
	}
	robots, err := intQuery(c, "robots")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobs, err := intQuery(c, "jobs")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (robots == nil) != (jobs == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "robots and jobs filters must be provided together"})
		return
	}

	out := gin.H{"seed": seed, "scale": scale}
	if robots != nil {
		out["robots"] = *robots
		out["jobs"] = *jobs
	}
	for _, mode := range []string{"baseline", "ga"} {
		run, err := s.store.LatestCompleted(mode, seed, scale, robots, jobs)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				out[mode] = nil
				continue
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out[mode] = run
	}
	c.JSON(http.StatusOK, out)
}

// intQuery parses an optional integer query param; nil when absent.
func intQuery(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &v, nil
}
