package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fintrack/models"
	"fintrack/pkg/reqcache"
)

const (
	defaultPage  = 1
	defaultLimit = 10

	// tagTransactions marks cache entries derived from the transactions
	// collection; every successful mutation invalidates it.
	tagTransactions = "transactions"
)

var (
	listCache   = reqcache.New[transactionList](256, 30*time.Second)
	reportCache = reqcache.New[[]reportRow](64, 30*time.Second)
)

func invalidateTransactionCaches() {
	listCache.Invalidate(tagTransactions)
	reportCache.Invalidate(tagTransactions)
}

// transactionList is the wire shape of a paginated listing. Totals always
// cover the caller's full visible scope, not the returned page.
type transactionList struct {
	Success      bool                 `json:"success"`
	Transactions []models.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
	TotalIncome  decimal.Decimal      `json:"totalIncome"`
	TotalExpense decimal.Decimal      `json:"totalExpense"`
	Balance      decimal.Decimal      `json:"balance"`
}

type reportRow struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// parsePagination applies the defaults; invalid values fall back to defaults
// rather than failing the request.
func parsePagination(pageStr, limitStr string) (page, limit int) {
	page, limit = defaultPage, defaultLimit
	if v, err := strconv.Atoi(pageStr); err == nil && v >= 1 {
		page = v
	}
	if v, err := strconv.Atoi(limitStr); err == nil && v >= 1 {
		limit = v
	}
	return page, limit
}

// transactionScope returns a fresh query over the caller's visible rows:
// everything for privileged roles, only owned rows otherwise.
func transactionScope(callerID, role string) *gorm.DB {
	q := db.Model(&models.Transaction{})
	if !models.Privileged(role) {
		q = q.Where("user_id = ?", callerID)
	}
	return q
}

func listTransactions(callerID, role string, page, limit int) (transactionList, error) {
	var total int64
	if err := transactionScope(callerID, role).Count(&total).Error; err != nil {
		return transactionList{}, err
	}

	items := []models.Transaction{}
	err := transactionScope(callerID, role).
		Preload("User").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return transactionList{}, err
	}

	totalIncome, err := sumAmount(callerID, role, models.TypeIncome)
	if err != nil {
		return transactionList{}, err
	}
	totalExpense, err := sumAmount(callerID, role, models.TypeExpense)
	if err != nil {
		return transactionList{}, err
	}

	return transactionList{
		Success:      true,
		Transactions: items,
		Total:        total,
		Page:         page,
		Limit:        limit,
		TotalIncome:  totalIncome,
		TotalExpense: totalExpense,
		Balance:      totalIncome.Sub(totalExpense),
	}, nil
}

func sumAmount(callerID, role, kind string) (decimal.Decimal, error) {
	row := transactionScope(callerID, role).
		Where("type = ?", kind).
		Select("COALESCE(SUM(amount), 0)").
		Row()
	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// monthlyReport aggregates the caller's visible scope into per-month income
// and expense totals for the report chart.
func monthlyReport(callerID, role string) ([]reportRow, error) {
	rows, err := transactionScope(callerID, role).
		Select(`to_char(date, 'YYYY-MM') AS month,
			COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0) AS income,
			COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0) AS expense`).
		Group("month").
		Order("month").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := []reportRow{}
	for rows.Next() {
		var r reportRow
		if err := rows.Scan(&r.Month, &r.Income, &r.Expense); err != nil {
			return nil, err
		}
		report = append(report, r)
	}
	return report, rows.Err()
}

// listTransactionsHandler godoc
// @Summary List visible transactions with totals
// @Description Admin and manager see all transactions, user only its own. Totals cover the full visible scope regardless of pagination.
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param page query int false "page (default 1)"
// @Param limit query int false "page size (default 10)"
// @Success 200 {object} transactionList
// @Failure 401 {object} map[string]string
// @Router /transactions [get]
func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	_, role := callerIdentity(c)
	page, limit := parsePagination(c.Query("page"), c.Query("limit"))

	key := fmt.Sprintf("list:%s:%d:%d", cacheScope(user.ID, role), page, limit)
	if resp, hit := listCache.Get(key); hit {
		c.JSON(http.StatusOK, resp)
		return
	}

	resp, err := listTransactions(user.ID, role, page, limit)
	if err != nil {
		logger.Error().Err(err).Msg("transaction list query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	listCache.Set(key, resp, tagTransactions)
	c.JSON(http.StatusOK, resp)
}

// transactionReportHandler godoc
// @Summary Monthly income/expense report over the visible scope
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /transactions/report [get]
func transactionReportHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	_, role := callerIdentity(c)

	key := "report:" + cacheScope(user.ID, role)
	if report, hit := reportCache.Get(key); hit {
		c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
		return
	}

	report, err := monthlyReport(user.ID, role)
	if err != nil {
		logger.Error().Err(err).Msg("transaction report query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	reportCache.Set(key, report, tagTransactions)
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// cacheScope collapses all privileged roles onto one key: they share the same
// visible scope.
func cacheScope(callerID, role string) string {
	if models.Privileged(role) {
		return "all"
	}
	return callerID
}
