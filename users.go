package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"fintrack/models"
)

// listUsersHandler godoc
// @Summary List accounts (privileged only)
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Failure 403 {object} map[string]string
// @Router /users [get]
func listUsersHandler(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	users := []models.User{}
	if err := db.Order("created_at desc").Find(&users).Error; err != nil {
		logger.Error().Err(err).Msg("user list query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// getUserHandler returns a single account: privileged callers may fetch any,
// everyone may fetch themselves.
func getUserHandler(c *gin.Context) {
	callerID, role := callerIdentity(c)
	id := c.Param("id")
	if !models.Privileged(role) && callerID != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	user, ok := findUser(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// deleteUserHandler godoc
// @Summary Delete an account and its transactions (privileged only)
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "user id"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{id} [delete]
func deleteUserHandler(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	user, ok := findUser(c, c.Param("id"))
	if !ok {
		return
	}
	// owned records go with the account
	if err := db.Where("user_id = ?", user.ID).Delete(&models.Transaction{}).Error; err != nil {
		logger.Error().Err(err).Str("id", user.ID).Msg("user transaction cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	db.Where("user_id = ?", user.ID).Delete(&models.RefreshToken{})
	if err := db.Delete(user).Error; err != nil {
		logger.Error().Err(err).Str("id", user.ID).Msg("user delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	invalidateTransactionCaches()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// setRoleHandler godoc
// @Summary Change an account's role (privileged only)
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "user id"
// @Param body body object true "role"
// @Success 200 {object} models.User
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{id}/role [patch]
func setRoleHandler(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	user, ok := findUser(c, c.Param("id"))
	if !ok {
		return
	}
	user.Role = req.Role
	if err := db.Save(user).Error; err != nil {
		logger.Error().Err(err).Str("id", user.ID).Msg("role update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// findUser loads an account by id, writing the error response on failure. A
// malformed id is indistinguishable from an unknown one.
func findUser(c *gin.Context, id string) (*models.User, bool) {
	if uuid.Validate(id) != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil, false
	}
	var user models.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			logger.Error().Err(err).Str("id", id).Msg("user lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		}
		return nil, false
	}
	return &user, true
}
