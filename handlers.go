package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/locking"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"bitbucket.org/mmdatafocus/storefront_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

func headerInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.GetHeader(name))
	if err != nil {
		return 0
	}
	return v
}

func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}

// currentUserId reads the identity shim from the request context. Zero plus
// a 401 response means the caller never set X-User-Id.
func currentUserId(c *gin.Context) (int, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-User-Id header is required"})
		return 0, false
	}
	return userId, true
}

func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": utils.ProcessValidationErrors(validationErrs)})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// respondError maps domain errors to HTTP statuses in one place so every
// handler reports conflicts and missing rows the same way.
func respondError(c *gin.Context, err error) {
	var lockedErr *locking.AlreadyLockedError
	switch {
	case errors.As(err, &lockedErr):
		c.JSON(http.StatusConflict, gin.H{"error": lockedErr.Error(), "holder": lockedErr.HolderLabel})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorNotPending),
		errors.Is(err, utils.ErrorEmptyReason),
		errors.Is(err, utils.ErrorWrongApprover),
		errors.Is(err, utils.ErrorEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		fields := logrus.Fields{"path": c.Request.URL.Path}
		if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
			fields["correlation_id"] = cid
		}
		if token, ok := utils.GetSessionIdFromContext(c.Request.Context()); ok {
			fields["session_token"] = token
		}
		config.LogError(app.logger, "handlers", "respondError", "unhandled error reached the HTTP layer", fields, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- edit sessions ---

type openEditSessionInput struct {
	UserLabel string `json:"user_label"`
}

func openEditSessionHandler(c *gin.Context) {
	var input openEditSessionInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	if input.UserLabel == "" {
		if name, ok := utils.GetUserNameFromContext(c.Request.Context()); ok {
			input.UserLabel = name
		}
	}
	if input.UserLabel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_label or X-User-Name is required"})
		return
	}
	token := app.edits.Begin(input.UserLabel)
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func endEditSessionHandler(c *gin.Context) {
	app.edits.End(c.Param("token"))
	c.Status(http.StatusNoContent)
}

type terminateEditSessionInput struct {
	BaseProductId  *int              `json:"base_product_id"`
	BaseVersion    int               `json:"base_version"`
	FieldValues    map[string]string `json:"field_values"`
	OriginalValues map[string]string `json:"original_values"`
}

// terminateEditSessionHandler handles the browser-is-going-away path: the
// beacon carries whatever the form held, the server snapshots it as a draft
// and frees every lock the session still holds.
func terminateEditSessionHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	var input terminateEditSessionInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	c.Request = c.Request.WithContext(utils.SetSessionIdInContext(c.Request.Context(), c.Param("token")))
	err := app.edits.TerminateAbnormally(c.Request.Context(), c.Param("token"), userId, input.BaseProductId, input.BaseVersion, input.FieldValues, input.OriginalValues)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- advisory locks ---

type lockInput struct {
	Token      string `json:"token" binding:"required"`
	EntityType string `json:"entity_type" binding:"required"`
	EntityId   int    `json:"entity_id" binding:"required"`
}

func acquireLockHandler(c *gin.Context) {
	var input lockInput
	if !bindJSON(c, &input) {
		return
	}
	entityType, err := models.ParseEntityType(input.EntityType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Request = c.Request.WithContext(utils.SetSessionIdInContext(c.Request.Context(), input.Token))
	if err := app.edits.BeginEdit(c.Request.Context(), input.Token, entityType, input.EntityId); err != nil {
		if errors.Is(err, workflow.ErrSessionNotOpen) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func releaseLockHandler(c *gin.Context) {
	var input lockInput
	if !bindJSON(c, &input) {
		return
	}
	c.Request = c.Request.WithContext(utils.SetSessionIdInContext(c.Request.Context(), input.Token))
	app.edits.EndEdit(c.Request.Context(), input.Token, input.EntityType, input.EntityId)
	c.Status(http.StatusNoContent)
}

func lockHoldersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"locks": app.locks.Holders()})
}

func isLockedHandler(c *gin.Context) {
	entityId, ok := pathInt(c, "id")
	if !ok {
		return
	}
	holder, locked := app.locks.IsLocked(c.Param("type"), entityId)
	c.JSON(http.StatusOK, gin.H{"locked": locked, "holder": holder})
}

// --- drafts ---

type captureDraftInput struct {
	BaseProductId  *int              `json:"base_product_id"`
	BaseVersion    int               `json:"base_version"`
	FieldValues    map[string]string `json:"field_values" binding:"required"`
	OriginalValues map[string]string `json:"original_values"`
}

// captureDraftHandler snapshots an in-progress edit without tearing the
// session down, for clients that autosave on visibility loss rather than
// only on unload.
func captureDraftHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	var input captureDraftInput
	if !bindJSON(c, &input) {
		return
	}
	err := app.drafts.CaptureOnTerminate(c.Request.Context(), userId, input.BaseProductId, input.BaseVersion, input.FieldValues, input.OriginalValues)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func hasDraftHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	has, err := app.drafts.HasDraft(c.Request.Context(), userId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_draft": has})
}

func consumeDraftHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	merged, err := app.drafts.FetchAndConsume(c.Request.Context(), userId)
	if err != nil {
		respondError(c, err)
		return
	}
	if merged == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":          merged.Product,
		"dirty_fields":     merged.DirtyFields,
		"original_values":  merged.OriginalValues,
		"base_was_deleted": merged.BaseWasDeleted,
		"captured_at":      merged.CapturedAt,
	})
}

func discardDraftHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	if err := app.drafts.Discard(c.Request.Context(), userId); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- purchases ---

func createPurchaseHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	var input models.NewPurchase
	if !bindJSON(c, &input) {
		return
	}
	purchase, err := models.CreatePendingPurchase(c.Request.Context(), userId, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, purchase)
}

func listPurchasesHandler(c *gin.Context) {
	ctx := c.Request.Context()
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 20)

	var (
		purchases []*models.Purchase
		total     int64
		err       error
	)
	switch c.Query("view") {
	case "requested":
		userId, ok := currentUserId(c)
		if !ok {
			return
		}
		if purchases, err = models.FindPurchasesByRequester(ctx, userId, offset, limit); err == nil {
			total, err = models.CountPurchasesByRequester(ctx, userId)
		}
	case "pending-approval":
		userId, ok := currentUserId(c)
		if !ok {
			return
		}
		if purchases, err = models.FindPendingByApprover(ctx, userId, offset, limit); err == nil {
			total, err = models.CountPendingByApprover(ctx, userId)
		}
	case "recently-decided":
		userId, ok := currentUserId(c)
		if !ok {
			return
		}
		since := time.Now().AddDate(0, 0, -queryInt(c, "days", 7))
		purchases, err = models.FindRecentlyDecidedByRequester(ctx, userId, since)
		total = int64(len(purchases))
	default:
		if status := models.PurchaseStatus(c.Query("status")); status != "" {
			if !status.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + string(status)})
				return
			}
			if purchases, err = models.FindPurchasesByStatus(ctx, status, offset, limit); err == nil {
				total, err = models.CountPurchasesByStatus(ctx, status)
			}
			break
		}
		if purchases, err = models.FindAllPurchases(ctx, offset, limit); err == nil {
			total, err = models.CountAllPurchases(ctx)
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases, "total": total})
}

func getPurchaseHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	purchase, err := models.GetPurchase(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

type approveInput struct {
	Comment string `json:"comment"`
}

func approvePurchaseHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var input approveInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	result, err := app.approval.Approve(c.Request.Context(), id, userId, input.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": result.Outcome, "purchase": result.Purchase})
}

type rejectInput struct {
	Reason string `json:"reason"`
}

func rejectPurchaseHandler(c *gin.Context) {
	userId, ok := currentUserId(c)
	if !ok {
		return
	}
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var input rejectInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	purchase, err := app.approval.Reject(c.Request.Context(), id, userId, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// Stats are cached briefly in Redis; decisions invalidate the keys via the
// purchase_status_changed subscription in main.
const (
	cacheKeyTopProducts   = "stats:top-products"
	cacheKeyMonthlyTotals = "stats:monthly-totals"
	statsCacheTTL         = 5 * time.Minute
)

func topProductsHandler(c *gin.Context) {
	limit := queryInt(c, "limit", 5)
	cacheKey := fmt.Sprintf("%s:%d", cacheKeyTopProducts, limit)

	var cached []*models.ProductPurchaseStat
	if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{"products": cached})
		return
	}

	stats, err := models.TopProductsByQuantity(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	_ = config.SetRedisObject(cacheKey, stats, statsCacheTTL)
	c.JSON(http.StatusOK, gin.H{"products": stats})
}

func monthlyTotalsHandler(c *gin.Context) {
	months := queryInt(c, "months", 6)
	cacheKey := fmt.Sprintf("%s:%d", cacheKeyMonthlyTotals, months)

	var cached []*models.MonthlyPurchaseStat
	if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{"months": cached})
		return
	}

	stats, err := models.MonthlyCompletedTotals(c.Request.Context(), months)
	if err != nil {
		respondError(c, err)
		return
	}
	_ = config.SetRedisObject(cacheKey, stats, statsCacheTTL)
	c.JSON(http.StatusOK, gin.H{"months": stats})
}

// --- catalog ---

func listProductsHandler(c *gin.Context) {
	products, err := models.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func getProductHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

type updateProductInput struct {
	Version int `json:"version"`
	models.NewProduct
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var input updateProductInput
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.UpdateProduct(c.Request.Context(), id, input.Version, &input.NewProduct)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func deleteProductHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listCategoriesHandler(c *gin.Context) {
	categories, err := models.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func createCategoryHandler(c *gin.Context) {
	var input models.NewCategory
	if !bindJSON(c, &input) {
		return
	}
	category, err := models.CreateCategory(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

type updateCategoryInput struct {
	Version int `json:"version"`
	models.NewCategory
}

func updateCategoryHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var input updateCategoryInput
	if !bindJSON(c, &input) {
		return
	}
	category, err := models.UpdateCategory(c.Request.Context(), id, input.Version, &input.NewCategory)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func deleteCategoryHandler(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteCategory(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func createUserHandler(c *gin.Context) {
	var input models.NewUser
	if !bindJSON(c, &input) {
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}
