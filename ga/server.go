package ga

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server wraps the stateless optimizer in an HTTP service.
type Server struct {
	router *gin.Engine
	params Params
	port   string
}

// NewServer builds the optimizer HTTP service with the given GA parameters.
func NewServer(params Params, port string) *Server {
	router := gin.Default()
	router.Use(cors.Default())

	s := &Server{router: router, params: params, port: port}
	router.GET("/health", s.health)
	router.POST("/optimize", s.optimize)
	return s
}

// Start blocks serving HTTP on the configured port.
func (s *Server) Start() error {
	return s.router.Run(":" + s.port)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) optimize(c *gin.Context) {
	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assignments, meta := Optimize(req.Seed, req.Robots, req.PendingJobs, req.SimTimeS, s.params)
	logrus.Infof("optimize run_id=%s seed=%d robots=%d jobs=%d best_score=%.2f",
		req.RunID, req.Seed, len(req.Robots), len(req.PendingJobs), meta.BestScore)

	c.JSON(http.StatusOK, OptimizeResponse{Assignments: assignments, Meta: meta})
}
