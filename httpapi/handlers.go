package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/query"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/scheduler"
	"github.com/goliatone/go-reconciler/webhooks"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebhook passes the raw body through unparsed; the signature is
// computed over the exact bytes received.
func (s *Server) handleWebhook(c *gin.Context) {
	if !strings.EqualFold(strings.TrimSpace(c.Param("provider")), s.config.ProviderID) {
		s.renderError(c, core.NotFound(nil, "unknown webhook provider", map[string]any{
			"provider_id": c.Param("provider"),
		}))
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, command.MaxWebhookBodyBytes+1))
	if err != nil {
		s.renderError(c, core.BadInput("unable to read request body", nil))
		return
	}
	// The ingestor checks the size limit after the signature, so an
	// unauthenticated oversized body is rejected as unauthorized.
	msg := command.IngestPaymentEventMessage{
		ProviderID: s.config.ProviderID,
		RawBody:    body,
		Signature:  c.GetHeader(s.config.SignatureHeader),
	}

	collector := gocmd.NewResult[webhooks.Ack]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.handlers.IngestPaymentEvent.Execute(ctx, msg); err != nil {
		if core.IsUnauthorized(err) {
			s.observer.Warn(ctx, "webhook rejected", map[string]any{"provider_id": s.config.ProviderID})
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetPaymentEvent(c *gin.Context) {
	msg := query.GetPaymentEventMessage{
		Reference: c.Param("reference"),
		EventType: c.Param("event"),
	}
	if err := msg.Validate(); err != nil {
		s.renderError(c, err)
		return
	}
	event, err := s.handlers.GetPaymentEvent.Query(c.Request.Context(), msg)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentEventResponse{
		ID:            event.ID,
		Reference:     event.Reference,
		EventType:     event.EventType,
		Payload:       rawJSON(event.Payload),
		DeliveryCount: event.DeliveryCount,
		ReceivedAt:    event.ReceivedAt,
		UpdatedAt:     event.UpdatedAt,
	})
}

type vendorFollowRequest struct {
	FollowerID string    `json:"follower_id"`
	FollowedAt time.Time `json:"followed_at"`
}

func (s *Server) handleVendorFollow(c *gin.Context) {
	var req vendorFollowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, core.BadInput("request body must be a json object", map[string]any{
			"error": err.Error(),
		}))
		return
	}
	msg := command.NotifyVendorFollowMessage{
		VendorID:   c.Param("vendor_id"),
		FollowerID: req.FollowerID,
		FollowedAt: req.FollowedAt,
	}
	if err := msg.Validate(); err != nil {
		s.renderError(c, err)
		return
	}

	collector := gocmd.NewResult[queue.JobHandle]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.handlers.NotifyVendorFollow.Execute(ctx, msg); err != nil {
		s.renderError(c, err)
		return
	}
	handle, _ := collector.Load()
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": handle.ID,
		"queue":  handle.Queue,
	})
}

func (s *Server) handleListReconcilers(c *gin.Context) {
	states, err := s.handlers.ListReconcilers.Query(c.Request.Context(), query.ListReconcilersMessage{})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconcilers": states})
}

func (s *Server) handleRunReconciler(c *gin.Context) {
	msg := command.RunReconcilerMessage{Name: c.Param("name")}
	if err := msg.Validate(); err != nil {
		s.renderError(c, err)
		return
	}
	collector := gocmd.NewResult[scheduler.RunReport]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.handlers.RunReconciler.Execute(ctx, msg); err != nil {
		s.renderError(c, err)
		return
	}
	report, _ := collector.Load()
	c.JSON(http.StatusOK, newRunReportResponse(report))
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := core.StatusCode(err)
	body := errorBody{Message: err.Error(), Code: core.ErrorInternal}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		body.Message = rich.Message
		if strings.TrimSpace(rich.TextCode) != "" {
			body.Code = rich.TextCode
		}
		for _, fieldErr := range rich.AllValidationErrors() {
			body.Fields = append(body.Fields, fieldError{Field: fieldErr.Field, Message: fieldErr.Message})
		}
	}
	if status >= http.StatusInternalServerError {
		s.observer.Error(c.Request.Context(), "http request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		// Internal detail stays in the logs.
		body.Message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
