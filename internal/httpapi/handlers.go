package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/queue"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/syncer"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// writeError maps domain errors onto HTTP statuses.
func (h *handler) writeError(c *gin.Context, err error) {
	var (
		validation *api.ValidationError
		state      *api.InvalidStateError
	)
	switch {
	case errors.Is(err, api.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid values", "fields": validation.Fields})
	case errors.As(err, &state):
		c.JSON(http.StatusConflict, gin.H{"error": state.Error(), "status": state.Status})
	case errors.Is(err, api.ErrApprovalInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": api.ApprovalPending})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ownedAccount loads the account and hides accounts of other owners.
func (h *handler) ownedAccount(c *gin.Context) (api.MailAccount, bool) {
	acct, err := h.Syncer.GetSyncStatus(c.Request.Context(), c.Param("id"))
	if err == nil && acct.Owner != c.GetString(ctxOwner) {
		err = fmt.Errorf("account %s: %w", acct.ID, api.ErrNotFound)
	}
	if err != nil {
		h.writeError(c, err)
		return api.MailAccount{}, false
	}
	return acct, true
}

func (h *handler) ownedApproval(c *gin.Context) (api.Approval, bool) {
	a, err := h.Approvals.Get(c.Request.Context(), c.Param("id"))
	if err == nil && a.Owner != c.GetString(ctxOwner) {
		err = fmt.Errorf("approval %s: %w", a.ID, api.ErrNotFound)
	}
	if err != nil {
		h.writeError(c, err)
		return api.Approval{}, false
	}
	return a, true
}

func (h *handler) listAccounts(c *gin.Context) {
	accts, err := h.Syncer.ListAccounts(c.Request.Context(), c.GetString(ctxOwner))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if accts == nil {
		accts = []api.MailAccount{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accts})
}

func (h *handler) createAccount(c *gin.Context) {
	var req struct {
		Address       string `json:"address" binding:"required"`
		Provider      string `json:"provider" binding:"required"`
		CredentialRef string `json:"credential_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(h.Providers) > 0 && !slices.Contains(h.Providers, req.Provider) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}
	if req.CredentialRef == "" {
		req.CredentialRef = req.Address
	}

	acct, err := h.Accounts.CreateAccount(c.Request.Context(), api.MailAccount{
		Owner:         c.GetString(ctxOwner),
		Address:       req.Address,
		Provider:      req.Provider,
		CredentialRef: req.CredentialRef,
		Status:        api.AccountActive,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (h *handler) triggerSync(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	res, err := h.Syncer.TriggerSync(c.Request.Context(), acct.ID)
	switch {
	case errors.Is(err, api.ErrAlreadySyncing), errors.Is(err, api.ErrAccountInactive):
		c.JSON(http.StatusConflict, gin.H{"status": syncer.StatusRejected, "error": err.Error()})
	case errors.Is(err, queue.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": syncer.StatusRejected, "error": err.Error()})
	case err != nil:
		h.writeError(c, err)
	default:
		c.JSON(http.StatusAccepted, res)
	}
}

func (h *handler) syncStatus(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *handler) listApprovals(c *gin.Context) {
	opts := approval.ListOptions{
		Owner:  c.GetString(ctxOwner),
		Status: api.ApprovalStatus(c.Query("status")),
		SortBy: c.Query("sort"),
		Desc:   c.Query("order") == "desc",
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
				return
			}
			*dst = n
		}
	}

	list, err := h.Approvals.List(c.Request.Context(), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []api.Approval{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": list})
}

func (h *handler) getApproval(c *gin.Context) {
	a, ok := h.ownedApproval(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handler) approve(c *gin.Context) {
	a, ok := h.ownedApproval(c)
	if !ok {
		return
	}

	var ov *approval.Override
	if c.Request.ContentLength != 0 {
		ov = &approval.Override{}
		if err := c.ShouldBindJSON(ov); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	resolved, err := h.Approvals.Approve(c.Request.Context(), a.ID, ov)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *handler) reject(c *gin.Context) {
	a, ok := h.ownedApproval(c)
	if !ok {
		return
	}
	resolved, err := h.Approvals.Reject(c.Request.Context(), a.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *handler) cleanup(c *gin.Context) {
	released, err := h.Syncer.CleanupStuckSyncs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}
