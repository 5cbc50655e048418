package leaderboard

import (
	"strconv"

	"judgeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultTopN = 10
	maxTopN     = 1000

	// TotalCountHeader carries the number of ranked users on TopN responses.
	TotalCountHeader = "X-Total-Count"
)

// Controller serves read-only leaderboard queries.
type Controller struct {
	engine *Engine
}

// NewController creates a new controller.
func NewController(engine *Engine) *Controller {
	return &Controller{engine: engine}
}

// TopN handles GET /leaderboard/:contestId?n=10.
func (h *Controller) TopN(c *gin.Context) {
	n := defaultTopN
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxTopN {
			response.BadRequest(c, "n must be between 1 and "+strconv.Itoa(maxTopN))
			return
		}
		n = v
	}
	contestID := c.Param("contestId")
	entries, err := h.engine.TopN(c.Request.Context(), contestID, n)
	if err != nil {
		response.Error(c, err)
		return
	}
	total, err := h.engine.Size(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header(TotalCountHeader, strconv.FormatInt(total, 10))
	response.Success(c, entries)
}

// Rank handles GET /leaderboard/:contestId/users/:userId.
func (h *Controller) Rank(c *gin.Context) {
	entry, err := h.engine.Rank(c.Request.Context(), c.Param("contestId"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entry)
}
