package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

// Verifier replays accounts against their stored balances
type Verifier interface {
	VerifyIntegrity(ctx context.Context, slug string) (*ledger.IntegrityReport, error)
	VerifyAll(ctx context.Context) ([]*ledger.IntegrityReport, error)
}

// IntegrityHandler exposes ledger integrity checks to admins
type IntegrityHandler struct {
	verifier Verifier
}

func NewIntegrityHandler(v Verifier) *IntegrityHandler {
	return &IntegrityHandler{verifier: v}
}

// All replays every account
func (h *IntegrityHandler) All(c *gin.Context) {
	reports, err := h.verifier.VerifyAll(c.Request.Context())
	if err != nil {
		logger.Error("integrity check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity check failed"})
		return
	}

	ok := true
	for _, r := range reports {
		ok = ok && r.OK
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "accounts": reports})
}

// Account replays one account
func (h *IntegrityHandler) Account(c *gin.Context) {
	slug := strings.ToLower(c.Param("slug"))

	report, err := h.verifier.VerifyIntegrity(c.Request.Context(), slug)
	if errors.Is(err, domain.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		logger.Error("integrity check failed", "account", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity check failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}
