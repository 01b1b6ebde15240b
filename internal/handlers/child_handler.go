package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
	"pocketwise/internal/services"
)

// ChildHandler handles child-profile and allowance requests.
type ChildHandler struct {
	childService services.ChildServicer
	ledger       services.LedgerServicer
	notifier     services.NotificationServicer
	auditService services.AuditServicer
}

// NewChildHandler creates a new ChildHandler.
func NewChildHandler(
	childService services.ChildServicer,
	ledger services.LedgerServicer,
	notifier services.NotificationServicer,
	auditService services.AuditServicer,
) *ChildHandler {
	return &ChildHandler{
		childService: childService,
		ledger:       ledger,
		notifier:     notifier,
		auditService: auditService,
	}
}

// CreateChildRequest represents the payload for adding a child. Email and
// password are optional: without them the child has no login and is
// managed entirely by parents.
type CreateChildRequest struct {
	Name           string `json:"name" binding:"required,min=1,max=100"`
	InitialBalance int64  `json:"initial_balance" binding:"omitempty,gte=0"`
	Email          string `json:"email" binding:"omitempty,email,max=255"`
	Password       string `json:"password" binding:"required_with=Email,omitempty,min=8,max=128"`
}

// AllowanceRequest represents the payload for granting allowance, in cents.
type AllowanceRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Memo   string `json:"memo" binding:"max=200"`
}

// CreateChild handles adding a child to the caller's family.
// @Summary     Add a child
// @Description Create a child profile, optionally with a login account and opening balance
// @Tags        children
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateChildRequest true "Child details"
// @Success     201 {object} models.Child "Child created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     409 {object} ErrorResponse "Email already registered"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children [post]
func (h *ChildHandler) CreateChild(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	child, err := h.childService.CreateChild(familyID, userID, req.Name, req.InitialBalance, req.Email, req.Password)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "CREATE_CHILD", "child", child.ID, c.ClientIP(),
		map[string]any{"name": req.Name, "initial_balance": req.InitialBalance})

	c.JSON(http.StatusCreated, gin.H{"child": child})
}

// GetChildren handles listing the family's children.
// @Summary     List children
// @Description Get a paginated list of the family's children
// @Tags        children
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Child] "Paginated children"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children [get]
func (h *ChildHandler) GetChildren(c *gin.Context) {
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.childService.GetFamilyChildren(familyID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetChild handles retrieving a single child profile with balance.
// @Summary     Get child
// @Description Get a child profile by ID
// @Tags        children
// @Produce     json
// @Security    BearerAuth
// @Param       id path int true "Child ID"
// @Success     200 {object} models.Child "Child details"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children/{id} [get]
func (h *ChildHandler) GetChild(c *gin.Context) {
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	childID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	child, err := h.childService.GetChildByID(familyID, childID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"child": child})
}

// GetChildLedger handles listing a child's ledger entries.
// @Summary     Get child ledger
// @Description Get a paginated list of a child's balance movements
// @Tags        children
// @Produce     json
// @Security    BearerAuth
// @Param       id        path  int true  "Child ID"
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.LedgerEntry] "Paginated ledger entries"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children/{id}/ledger [get]
func (h *ChildHandler) GetChildLedger(c *gin.Context) {
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	childID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	// Scope check before touching the ledger.
	if _, err := h.childService.GetChildByID(familyID, childID); err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.ledger.GetEntries(childID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GrantAllowance handles crediting a child's balance.
// @Summary     Grant allowance
// @Description Credit a child's balance with an allowance payment
// @Tags        children
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path int              true "Child ID"
// @Param       request body AllowanceRequest true "Allowance amount in cents"
// @Success     201 {object} models.LedgerEntry "Ledger entry created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children/{id}/allowance [post]
func (h *ChildHandler) GrantAllowance(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	childID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	child, err := h.childService.GetChildByID(familyID, childID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req AllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	memo := req.Memo
	if memo == "" {
		memo = "Allowance"
	}

	entry, err := h.ledger.GrantAllowance(childID, req.Amount, memo, userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if child.UserID != nil {
		h.notifier.NotifyUser(*child.UserID, models.NotificationAllowanceGranted, map[string]any{
			"amount": req.Amount,
			"memo":   memo,
		})
	}

	h.auditService.Log(&userID, "GRANT_ALLOWANCE", "child", childID, c.ClientIP(),
		map[string]any{"amount": req.Amount, "memo": memo})

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}
