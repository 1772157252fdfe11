package pkg

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunStatus is the live view of a play run exposed over HTTP.
type RunStatus struct {
	Play           string            `json:"play"`
	Strategy       string            `json:"strategy"`
	PendingResults int               `json:"pending_results"`
	Hosts          map[string]string `json:"hosts"`
}

// Server exposes Prometheus metrics and run status over HTTP.
type Server struct {
	router *gin.Engine
	port   string
	status func() RunStatus
	stats  *AggregateStats
}

// NewServer creates the HTTP server. The status callback may be nil when
// nothing is running yet.
func NewServer(port string, status func() RunStatus, stats *AggregateStats) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		router: router,
		port:   port,
		status: status,
		stats:  stats,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.registerRoutes()
	return s.router.Run(":" + s.port)
}

func (s *Server) registerRoutes() {
	// Metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API endpoints
	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.getStatus)
		api.GET("/stats", s.getStats)
	}
}

func (s *Server) getStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no run active",
		})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) getStats(c *gin.Context) {
	summary := make(map[string]SummaryStats)
	if s.stats != nil {
		for _, host := range s.stats.ProcessedHosts() {
			summary[host] = s.stats.Summarize(host)
		}
	}
	c.JSON(http.StatusOK, summary)
}
