package server

import (
	"errors"
	"net/http"

	"github.com/aimerfeng/PoolGate/internal/allocation"
	"github.com/aimerfeng/PoolGate/internal/credential"
	apierrors "github.com/aimerfeng/PoolGate/internal/errors"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func (s *APIServer) handleListUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

func (s *APIServer) handleGetUser(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	u, err := s.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.sendError(c, apierrors.ErrUserNotFoundError)
			return
		}
		log.Error().Err(err).Msg("Failed to get user")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, u)
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *APIServer) handleSetUserStatus(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	status := models.UserStatus(req.Status)
	switch status {
	case models.UserStatusActive, models.UserStatusSuspended, models.UserStatusDisabled:
	default:
		s.sendError(c, apierrors.NewInvalidRequestError("invalid status"))
		return
	}

	if err := s.users.SetStatus(c.Request.Context(), userID, status); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.sendError(c, apierrors.ErrUserNotFoundError)
			return
		}
		log.Error().Err(err).Msg("Failed to set user status")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

type setQuotaRequest struct {
	TokenQuota *int `json:"token_quota" binding:"required"`
}

func (s *APIServer) handleSetUserQuota(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	if err := s.users.SetTokenQuota(c.Request.Context(), userID, *req.TokenQuota); err != nil {
		switch {
		case errors.Is(err, user.ErrUserNotFound):
			s.sendError(c, apierrors.ErrUserNotFoundError)
		case errors.Is(err, user.ErrInvalidQuota):
			s.sendError(c, apierrors.NewInvalidRequestError("token quota must be non-negative"))
		default:
			log.Error().Err(err).Msg("Failed to set token quota")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_quota": *req.TokenQuota})
}

func (s *APIServer) handleCreatePoolToken(c *gin.Context) {
	var req credential.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	token, err := s.credentials.Create(c.Request.Context(), &req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create pool token")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (s *APIServer) handleListPoolTokens(c *gin.Context) {
	tokens, err := s.credentials.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pool tokens")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool_tokens": tokens, "total": len(tokens)})
}

func (s *APIServer) handleGetPoolToken(c *gin.Context) {
	tokenID, ok := s.pathUUID(c, "tokenId")
	if !ok {
		return
	}

	token, err := s.credentials.GetByID(c.Request.Context(), tokenID)
	if err != nil {
		if errors.Is(err, credential.ErrTokenNotFound) {
			s.sendError(c, apierrors.ErrPoolTokenNotFoundError)
			return
		}
		log.Error().Err(err).Msg("Failed to get pool token")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (s *APIServer) handleSetPoolTokenStatus(c *gin.Context) {
	tokenID, ok := s.pathUUID(c, "tokenId")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	err := s.credentials.SetStatus(c.Request.Context(), tokenID, models.PoolTokenStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrTokenNotFound):
			s.sendError(c, apierrors.ErrPoolTokenNotFoundError)
		case errors.Is(err, credential.ErrInvalidStatus):
			s.sendError(c, apierrors.NewInvalidRequestError("invalid status"))
		default:
			log.Error().Err(err).Msg("Failed to set pool token status")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

type updatePoolTokenRequest struct {
	Endpoint *string `json:"endpoint,omitempty"`
	Remark   *string `json:"remark,omitempty"`
}

func (s *APIServer) handleUpdatePoolToken(c *gin.Context) {
	tokenID, ok := s.pathUUID(c, "tokenId")
	if !ok {
		return
	}

	var req updatePoolTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	if err := s.credentials.Update(c.Request.Context(), tokenID, req.Endpoint, req.Remark); err != nil {
		if errors.Is(err, credential.ErrTokenNotFound) {
			s.sendError(c, apierrors.ErrPoolTokenNotFoundError)
			return
		}
		log.Error().Err(err).Msg("Failed to update pool token")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

type allocateRequest struct {
	TokenIDs []uuid.UUID `json:"token_ids" binding:"required,min=1"`
	Priority int         `json:"priority"`
}

func (s *APIServer) handleAllocate(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	result, err := s.ledger.Allocate(c.Request.Context(), userID, req.TokenIDs, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, allocation.ErrQuotaExceeded):
			active, _ := s.ledger.ActiveCount(c.Request.Context(), userID)
			u, uerr := s.users.GetByID(c.Request.Context(), userID)
			quota := 0
			if uerr == nil {
				quota = u.TokenQuota
			}
			s.sendError(c, apierrors.NewQuotaExceededError(active, len(req.TokenIDs), quota))
		case errors.Is(err, allocation.ErrUserNotFound):
			s.sendError(c, apierrors.ErrUserNotFoundError)
		default:
			log.Error().Err(err).Msg("Failed to allocate pool tokens")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

type revokeRequest struct {
	TokenIDs []uuid.UUID `json:"token_ids" binding:"required,min=1"`
}

func (s *APIServer) handleRevoke(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	revoked, err := s.ledger.Revoke(c.Request.Context(), userID, req.TokenIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to revoke allocations")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_count": revoked})
}

func (s *APIServer) handleUserAllocations(c *gin.Context) {
	userID, ok := s.pathUUID(c, "userId")
	if !ok {
		return
	}

	allocs, err := s.ledger.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list allocations")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocs, "total": len(allocs)})
}

func (s *APIServer) handleTokenAllocations(c *gin.Context) {
	tokenID, ok := s.pathUUID(c, "tokenId")
	if !ok {
		return
	}

	allocs, err := s.ledger.ListForToken(c.Request.Context(), tokenID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list allocations")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocs, "total": len(allocs)})
}

func (s *APIServer) handleUserTotalsReport(c *gin.Context) {
	from, to, ok := s.parseDateRange(c)
	if !ok {
		return
	}

	totals, err := s.usageStats.TotalsByUser(c.Request.Context(), from, to, 50)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load user totals")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": totals})
}

func (s *APIServer) handleTokenRankingsReport(c *gin.Context) {
	from, to, ok := s.parseDateRange(c)
	if !ok {
		return
	}

	rankings, err := s.usageStats.TokenRankings(c.Request.Context(), from, to, 50)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load token rankings")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": rankings})
}
