package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
	"pocketwise/internal/services"
)

// RequestHandler handles spending-request endpoints.
type RequestHandler struct {
	requestService services.RequestServicer
	childService   services.ChildServicer
	auditService   services.AuditServicer
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(
	requestService services.RequestServicer,
	childService services.ChildServicer,
	auditService services.AuditServicer,
) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		childService:   childService,
		auditService:   auditService,
	}
}

// CreateSpendingRequest represents the payload for filing a spending
// request. Amount is in cents.
type CreateSpendingRequest struct {
	Amount      int64      `json:"amount" binding:"required,gt=0"`
	Category    string     `json:"category" binding:"required,request_category"`
	Description string     `json:"description" binding:"required,min=1,max=500"`
	Merchant    string     `json:"merchant" binding:"max=200"`
	Reason      string     `json:"reason" binding:"max=500"`
	Priority    string     `json:"priority" binding:"omitempty,request_priority"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// ReviewRequest represents the payload for a manual decision. Notes are
// required for rejections and optional for approvals.
type ReviewRequest struct {
	Notes string `json:"notes" binding:"max=500"`
}

// CreateRequest handles a child filing a spending request. The response
// status is already final when a rule auto-approved it.
// @Summary     Create a spending request
// @Description File a spending request; it may be auto-approved by a matching rule
// @Tags        requests
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateSpendingRequest true "Request details"
// @Success     201 {object} models.SpendingRequest "Request created (pending or auto-approved)"
// @Failure     400 {object} ErrorResponse "Invalid input or insufficient balance"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "No child profile for caller"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateSpendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	request, err := h.requestService.Create(userID, services.CreateRequestInput{
		Amount:      req.Amount,
		Category:    models.RequestCategory(req.Category),
		Description: req.Description,
		Merchant:    req.Merchant,
		Reason:      req.Reason,
		Priority:    models.RequestPriority(req.Priority),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	changes := map[string]any{
		"amount":        request.Amount,
		"category":      request.Category,
		"status":        request.Status,
		"auto_approved": request.AutoApproved,
	}
	if request.AutoApproved {
		// Rule decisions are system actions; keep the rule id inspectable.
		changes["rule_id"] = request.ApprovedByRuleID
		h.auditService.Log(nil, "AUTO_APPROVE_REQUEST", "spending_request", request.ID, c.ClientIP(), changes)
	} else {
		h.auditService.Log(&userID, "CREATE_REQUEST", "spending_request", request.ID, c.ClientIP(), changes)
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// GetPending handles listing the family's pending requests for review.
// @Summary     List pending requests
// @Description Get the family's requests awaiting a decision, oldest first
// @Tags        requests
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.SpendingRequest] "Paginated requests"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests/pending [get]
func (h *RequestHandler) GetPending(c *gin.Context) {
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

	result, err := h.requestService.GetPendingForFamily(familyID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetRequest handles retrieving one request.
// @Summary     Get request
// @Description Get a spending request by ID
// @Tags        requests
// @Produce     json
// @Security    BearerAuth
// @Param       id path int true "Request ID"
// @Success     200 {object} models.SpendingRequest "Request details"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Request not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	familyID, err := getFamilyID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	requestID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	request, err := h.requestService.GetByID(familyID, requestID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// GetChildRequests handles listing a child's requests.
// @Summary     List child requests
// @Description Get a child's spending requests, optionally filtered by status
// @Tags        requests
// @Produce     json
// @Security    BearerAuth
// @Param       id        path  int    true  "Child ID"
// @Param       status    query string false "Filter by status"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.SpendingRequest] "Paginated requests"
// @Failure     400 {object} ErrorResponse "Invalid status"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children/{id}/requests [get]
func (h *RequestHandler) GetChildRequests(c *gin.Context) {
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

	if _, err := h.childService.GetChildByID(familyID, childID); err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var status *models.RequestStatus
	if v := c.Query("status"); v != "" {
		s := models.RequestStatus(v)
		switch s {
		case models.RequestStatusPending, models.RequestStatusApproved,
			models.RequestStatusRejected, models.RequestStatusCancelled,
			models.RequestStatusExpired:
			status = &s
		default:
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown status"))
			return
		}
	}

	result, err := h.requestService.GetForChild(familyID, childID, status, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetChildRequestStats handles the per-child statistics endpoint.
// @Summary     Child request statistics
// @Description Aggregate a child's request history since a timestamp (default: last 30 days)
// @Tags        requests
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  int    true  "Child ID"
// @Param       since query string false "RFC 3339 timestamp"
// @Success     200 {object} services.RequestStatistics "Statistics"
// @Failure     400 {object} ErrorResponse "Invalid timestamp"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /children/{id}/requests/stats [get]
func (h *RequestHandler) GetChildRequestStats(c *gin.Context) {
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

	if _, err := h.childService.GetChildByID(familyID, childID); err != nil {
		respondWithError(c, err)
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if v := c.Query("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "since must be an RFC 3339 timestamp"))
			return
		}
		since = parsed
	}

	stats, err := h.requestService.Statistics(familyID, childID, since)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

// ApproveRequest handles a parent approving a pending request.
// @Summary     Approve request
// @Description Approve a pending spending request; debits the child's balance
// @Tags        requests
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path int           true  "Request ID"
// @Param       request body ReviewRequest false "Optional notes"
// @Success     200 {object} models.SpendingRequest "Approved request"
// @Failure     400 {object} ErrorResponse "Insufficient balance"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Wrong family"
// @Failure     404 {object} ErrorResponse "Request not found"
// @Failure     409 {object} ErrorResponse "Already decided"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests/{id}/approve [post]
func (h *RequestHandler) ApproveRequest(c *gin.Context) {
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

	requestID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	request, err := h.requestService.Approve(familyID, userID, requestID, req.Notes)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "APPROVE_REQUEST", "spending_request", request.ID, c.ClientIP(),
		map[string]any{"amount": request.Amount, "notes": req.Notes})

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// RejectRequest handles a parent rejecting a pending request.
// @Summary     Reject request
// @Description Reject a pending spending request; notes are mandatory
// @Tags        requests
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path int           true "Request ID"
// @Param       request body ReviewRequest true "Rejection notes"
// @Success     200 {object} models.SpendingRequest "Rejected request"
// @Failure     400 {object} ErrorResponse "Missing notes"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Wrong family"
// @Failure     404 {object} ErrorResponse "Request not found"
// @Failure     409 {object} ErrorResponse "Already decided"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests/{id}/reject [post]
func (h *RequestHandler) RejectRequest(c *gin.Context) {
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

	requestID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	request, err := h.requestService.Reject(familyID, userID, requestID, req.Notes)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "REJECT_REQUEST", "spending_request", request.ID, c.ClientIP(),
		map[string]any{"amount": request.Amount, "notes": req.Notes})

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// CancelRequest handles a child withdrawing their own pending request.
// @Summary     Cancel request
// @Description Cancel one of the caller's own pending spending requests
// @Tags        requests
// @Produce     json
// @Security    BearerAuth
// @Param       id path int true "Request ID"
// @Success     200 {object} models.SpendingRequest "Cancelled request"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Not the requesting child"
// @Failure     404 {object} ErrorResponse "Request not found"
// @Failure     409 {object} ErrorResponse "Already decided"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /requests/{id}/cancel [post]
func (h *RequestHandler) CancelRequest(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	requestID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	request, err := h.requestService.Cancel(userID, requestID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "CANCEL_REQUEST", "spending_request", request.ID, c.ClientIP(), nil)

	c.JSON(http.StatusOK, gin.H{"request": request})
}
