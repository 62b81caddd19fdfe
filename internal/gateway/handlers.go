package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgate/llmgate/internal/backend"
	"github.com/llmgate/llmgate/internal/credsource"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/quota"
	"github.com/llmgate/llmgate/internal/toolserver"
	"github.com/llmgate/llmgate/internal/usage"
)

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Answer interface{} `json:"answer"`

	Usage backend.Usage `json:"usage"`

	// ExcludedToolServers lists servers skipped for this request with
	// the reason, so callers can see why a tool was unavailable.
	ExcludedToolServers []toolserver.Exclusion `json:"excluded_tool_servers,omitempty"`
}

// handleQuery runs the admission pipeline tail: quota reservation,
// tool-server resolution, the backend call, and reservation
// resolution.
func (g *Gateway) handleQuery(c *gin.Context) {
	identity := identityFrom(c)
	ctx := c.Request.Context()

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, reasonInvalidRequest, "query is required")
		return
	}

	var reservation *quota.Reservation
	if g.ledger != nil {
		var err error
		reservation, err = g.ledger.Reserve(ctx, identity.Subject, g.admissionCost())
		if err != nil {
			writeError(c, err)
			return
		}
	}

	clientHeaders, err := credsource.ParseClientHeaders(c.Request)
	if err != nil {
		g.revoke(c, reservation)
		abortWith(c, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	credReq := &credsource.Request{
		Token:         identity.Token,
		ClientHeaders: clientHeaders,
	}

	var resolved []toolserver.Resolved
	var excluded []toolserver.Exclusion
	if g.registry != nil {
		resolved, excluded = g.registry.Resolve(ctx, credReq)
	}

	resp, err := g.backend.Query(ctx, &backend.Request{
		Query:       req.Query,
		Subject:     identity.Subject,
		DisplayName: identity.DisplayName,
		ToolServers: resolved,
	})
	if err != nil {
		g.revoke(c, reservation)
		g.logger.Error("backend query failed",
			observability.String("subject", identity.Subject),
			observability.Error(err),
		)
		writeError(c, err)
		return
	}

	g.consume(c, reservation)
	g.usage.Record(&usage.Record{
		Subject:      identity.Subject,
		Provider:     resp.Usage.Provider,
		Model:        resp.Usage.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})

	c.JSON(http.StatusOK, QueryResponse{
		Answer:              resp.Answer,
		Usage:               resp.Usage,
		ExcludedToolServers: excluded,
	})
}

// handleToolServers serves the discovery listing.
func (g *Gateway) handleToolServers(c *gin.Context) {
	var infos []toolserver.Info
	if g.registry != nil {
		infos = g.registry.Discovery()
	}
	c.JSON(http.StatusOK, gin.H{"tool_servers": infos})
}

func (g *Gateway) admissionCost() int64 {
	if g.config != nil && g.config.Quota.AdmissionCost > 0 {
		return g.config.Quota.AdmissionCost
	}
	return 500
}

func (g *Gateway) revoke(c *gin.Context, reservation *quota.Reservation) {
	if reservation == nil {
		return
	}
	if err := reservation.Revoke(c.Request.Context()); err != nil {
		g.logger.Error("failed to revoke quota reservation", observability.Error(err))
	}
}

func (g *Gateway) consume(c *gin.Context, reservation *quota.Reservation) {
	if reservation == nil {
		return
	}
	if err := reservation.Consume(c.Request.Context()); err != nil {
		g.logger.Error("failed to consume quota reservation", observability.Error(err))
	}
}
