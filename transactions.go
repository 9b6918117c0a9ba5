package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fintrack/models"
)

// transactionInput is the create/update payload. Pointers distinguish a field
// that was omitted from one set to its zero value.
type transactionInput struct {
	Type     *string          `json:"type"`
	Category *string          `json:"category"`
	Amount   *decimal.Decimal `json:"amount"`
	Note     *string          `json:"note"`
	Date     *string          `json:"date"`
}

// parseDate accepts RFC3339 or a bare calendar date.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func validateTypeAmount(kind *string, amount *decimal.Decimal) (string, bool) {
	if kind != nil && !models.ValidType(*kind) {
		return "type must be 'income' or 'expense'", false
	}
	if amount != nil && amount.IsNegative() {
		return "amount must not be negative", false
	}
	return "", true
}

// findScopedTransaction resolves id inside the caller's permitted scope. An
// out-of-scope id produces the same not-found as an unknown id, so existence
// never leaks to unauthorized callers.
func findScopedTransaction(c *gin.Context, id string) (*models.Transaction, bool) {
	callerID, role := callerIdentity(c)
	q := db.Preload("User")
	if !models.Privileged(role) {
		q = q.Where("user_id = ?", callerID)
	}
	var tx models.Transaction
	if err := q.Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		} else {
			logger.Error().Err(err).Str("id", id).Msg("transaction lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		}
		return nil, false
	}
	return &tx, true
}

// createTransactionHandler godoc
// @Summary Record a transaction for the authenticated user
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body transactionInput true "transaction"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /transactions [post]
func createTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req transactionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == nil || req.Category == nil || req.Amount == nil || req.Date == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	if msg, ok := validateTypeAmount(req.Type, req.Amount); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	category := strings.TrimSpace(*req.Category)
	if category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category required"})
		return
	}
	date, err := parseDate(*req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be RFC3339 or YYYY-MM-DD"})
		return
	}

	tx := models.Transaction{UserID: user.ID, Type: *req.Type, Category: category, Amount: *req.Amount, Date: date}
	if req.Note != nil {
		tx.Note = *req.Note
	}
	if err := db.Omit("User").Create(&tx).Error; err != nil {
		logger.Error().Err(err).Msg("transaction create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	tx.User = user
	invalidateTransactionCaches()
	c.JSON(http.StatusCreated, gin.H{"success": true, "transaction": tx})
}

// getTransactionHandler godoc
// @Summary Fetch a single transaction within the caller's scope
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [get]
func getTransactionHandler(c *gin.Context) {
	id := c.Param("id")
	if uuid.Validate(id) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	tx, ok := findScopedTransaction(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

// updateTransactionHandler godoc
// @Summary Update a transaction within the caller's scope
// @Description Partial update; omitted fields keep their value. Returns the full post-update record.
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Param body body transactionInput true "fields to change"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [put]
func updateTransactionHandler(c *gin.Context) {
	id := c.Param("id")
	if uuid.Validate(id) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req transactionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg, ok := validateTypeAmount(req.Type, req.Amount); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	var date time.Time
	if req.Date != nil {
		var err error
		if date, err = parseDate(*req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be RFC3339 or YYYY-MM-DD"})
			return
		}
	}
	if req.Category != nil && strings.TrimSpace(*req.Category) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category required"})
		return
	}

	tx, ok := findScopedTransaction(c, id)
	if !ok {
		return
	}
	// owner never changes, even for privileged callers
	if req.Type != nil {
		tx.Type = *req.Type
	}
	if req.Category != nil {
		tx.Category = strings.TrimSpace(*req.Category)
	}
	if req.Amount != nil {
		tx.Amount = *req.Amount
	}
	if req.Note != nil {
		tx.Note = *req.Note
	}
	if req.Date != nil {
		tx.Date = date
	}
	if err := db.Omit("User").Save(tx).Error; err != nil {
		logger.Error().Err(err).Str("id", id).Msg("transaction update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	invalidateTransactionCaches()
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

// deleteTransactionHandler godoc
// @Summary Delete a transaction within the caller's scope
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [delete]
func deleteTransactionHandler(c *gin.Context) {
	id := c.Param("id")
	if uuid.Validate(id) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	tx, ok := findScopedTransaction(c, id)
	if !ok {
		return
	}
	if err := db.Delete(&models.Transaction{}, "id = ?", tx.ID).Error; err != nil {
		logger.Error().Err(err).Str("id", id).Msg("transaction delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	invalidateTransactionCaches()
	c.JSON(http.StatusOK, gin.H{"success": true, "id": tx.ID})
}
