package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/query"
)

// Handlers are the command and query handlers served over HTTP. Nil entries
// leave their routes unregistered.
type Handlers struct {
	IngestPaymentEvent *command.IngestPaymentEventCommand
	RunReconciler      *command.RunReconcilerCommand
	NotifyVendorFollow *command.NotifyVendorFollowCommand
	GetPaymentEvent    *query.GetPaymentEventQuery
	ListReconcilers    *query.ListReconcilersQuery
	Metrics            http.Handler
}

type Config struct {
	ProviderID      string
	SignatureHeader string
}

// Server is a thin transport adapter: it reads requests, hands them to the
// command and query handlers and maps their errors onto status codes.
type Server struct {
	config   Config
	handlers Handlers
	observer *core.Observer
	router   *gin.Engine
}

func NewServer(cfg Config, handlers Handlers, observer *core.Observer) *Server {
	if strings.TrimSpace(cfg.ProviderID) == "" {
		cfg.ProviderID = core.DefaultWebhookProvider
	}
	if strings.TrimSpace(cfg.SignatureHeader) == "" {
		cfg.SignatureHeader = core.DefaultSignatureHeader
	}
	if observer == nil {
		observer = core.NewObserver(nil, nil, "reconciler")
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:   cfg,
		handlers: handlers,
		observer: observer,
		router:   router,
	}

	router.GET("/healthz", s.handleHealth)
	if handlers.Metrics != nil {
		router.GET("/metrics", gin.WrapH(handlers.Metrics))
	}
	if handlers.IngestPaymentEvent != nil {
		router.POST("/webhooks/:provider", s.handleWebhook)
	}
	if handlers.GetPaymentEvent != nil {
		router.GET("/payment-events/:reference/:event", s.handleGetPaymentEvent)
	}
	if handlers.NotifyVendorFollow != nil {
		router.POST("/vendors/:vendor_id/followers", s.handleVendorFollow)
	}

	reconcilers := router.Group("/reconcilers")
	{
		if handlers.ListReconcilers != nil {
			reconcilers.GET("", s.handleListReconcilers)
		}
		if handlers.RunReconciler != nil {
			reconcilers.POST("/:name/run", s.handleRunReconciler)
		}
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
