package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hyunsoo-dev/persona-chat/internal/common"
)

// ListMyEarnings returns the authenticated creator's revenue-share buckets.
// The optional period query narrows to one calendar month, e.g. 2026-09.
func (h *Handler) ListMyEarnings(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	earnings, err := h.Ledger.ListEarnings(c.Request.Context(), uid, c.Query("period"))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to list earnings")
		return
	}

	var total float64
	for _, e := range earnings {
		if !e.Settled {
			total += e.TokensEarned
		}
	}
	common.Ok(c, gin.H{
		"earnings":        earnings,
		"unsettled_total": total,
	})
}
