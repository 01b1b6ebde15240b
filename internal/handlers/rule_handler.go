package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
	"pocketwise/internal/services"
)

// RuleHandler handles approval-rule management endpoints.
type RuleHandler struct {
	ruleService  services.RuleServicer
	auditService services.AuditServicer
}

// NewRuleHandler creates a new RuleHandler.
func NewRuleHandler(ruleService services.RuleServicer, auditService services.AuditServicer) *RuleHandler {
	return &RuleHandler{ruleService: ruleService, auditService: auditService}
}

// RulePayload represents the payload for creating or updating an approval
// rule. Amounts are in cents; days_of_week uses 0 = Sunday .. 6 = Saturday
// and an empty list means every day.
type RulePayload struct {
	ChildID       *uint  `json:"child_id"`
	MaxAmount     int64  `json:"max_amount" binding:"required,gt=0"`
	Category      string `json:"category" binding:"omitempty,request_category"`
	MaxPerDay     int    `json:"max_per_day" binding:"required,min=1"`
	MaxDailyTotal int64  `json:"max_daily_total" binding:"omitempty,gte=0"`
	DaysOfWeek    []int  `json:"days_of_week" binding:"omitempty,dive,weekday"`
	IsActive      *bool  `json:"is_active"`
}

func (p *RulePayload) toInput() services.RuleInput {
	input := services.RuleInput{
		ChildID:       p.ChildID,
		MaxAmount:     p.MaxAmount,
		MaxPerDay:     p.MaxPerDay,
		MaxDailyTotal: p.MaxDailyTotal,
		IsActive:      p.IsActive,
	}
	if p.Category != "" {
		category := models.RequestCategory(p.Category)
		input.Category = &category
	}
	var days models.WeekdaySet
	for _, d := range p.DaysOfWeek {
		days |= 1 << uint(d)
	}
	input.DaysOfWeek = days
	return input
}

// CreateRule handles creating an approval rule.
// @Summary     Create approval rule
// @Description Create a rule that lets qualifying requests skip manual review
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body RulePayload true "Rule details"
// @Success     201 {object} models.ApprovalRule "Rule created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Child not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
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

	var req RulePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	rule, err := h.ruleService.CreateRule(familyID, userID, req.toInput())
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "CREATE_RULE", "approval_rule", rule.ID, c.ClientIP(),
		map[string]any{"max_amount": rule.MaxAmount, "max_per_day": rule.MaxPerDay, "category": rule.Category})

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// GetRules handles listing the family's rules.
// @Summary     List approval rules
// @Description Get the family's approval rules in evaluation order
// @Tags        rules
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.ApprovalRule] "Paginated rules"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules [get]
func (h *RuleHandler) GetRules(c *gin.Context) {
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

	result, err := h.ruleService.GetFamilyRules(familyID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpdateRule handles replacing a rule's policy fields.
// @Summary     Update approval rule
// @Description Replace an approval rule's fields; already-decided requests are unaffected
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path int         true "Rule ID"
// @Param       request body RulePayload true "Rule details"
// @Success     200 {object} models.ApprovalRule "Updated rule"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Rule not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
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

	ruleID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req RulePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	rule, err := h.ruleService.UpdateRule(familyID, ruleID, req.toInput())
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "UPDATE_RULE", "approval_rule", rule.ID, c.ClientIP(),
		map[string]any{"max_amount": rule.MaxAmount, "max_per_day": rule.MaxPerDay, "is_active": rule.IsActive})

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// DeleteRule handles soft-deleting a rule.
// @Summary     Delete approval rule
// @Description Delete an approval rule; already-decided requests keep referencing it
// @Tags        rules
// @Produce     json
// @Security    BearerAuth
// @Param       id path int true "Rule ID"
// @Success     204 "Rule deleted"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Rule not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
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

	ruleID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.ruleService.DeleteRule(familyID, ruleID); err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(&userID, "DELETE_RULE", "approval_rule", ruleID, c.ClientIP(), nil)

	c.Status(http.StatusNoContent)
}
