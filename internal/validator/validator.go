// Package validator provides custom validation functions for Gin's binding engine.
package validator

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"pocketwise/internal/models"
)

// Register registers all custom validators with the Gin binding engine.
func Register() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("request_category", validateRequestCategory)
		_ = v.RegisterValidation("request_priority", validateRequestPriority)
		_ = v.RegisterValidation("request_status", validateRequestStatus)
		_ = v.RegisterValidation("weekday", validateWeekday)
	}
}

func validateRequestCategory(fl validator.FieldLevel) bool {
	return models.RequestCategory(fl.Field().String()).Valid()
}

func validateRequestPriority(fl validator.FieldLevel) bool {
	return models.RequestPriority(fl.Field().String()).Valid()
}

func validateRequestStatus(fl validator.FieldLevel) bool {
	switch models.RequestStatus(fl.Field().String()) {
	case models.RequestStatusPending, models.RequestStatusApproved,
		models.RequestStatusRejected, models.RequestStatusCancelled,
		models.RequestStatusExpired:
		return true
	}
	return false
}

func validateWeekday(fl validator.FieldLevel) bool {
	d := fl.Field().Int()
	return d >= 0 && d <= 6
}
