package services

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "pocketwise/internal/errors"
	"pocketwise/internal/logger"
	"pocketwise/internal/models"
	"pocketwise/internal/pagination"
)

// notificationService is a pull-based notification inbox. Writes are
// best-effort: a failed insert is logged and dropped, never surfaced to the
// state transition that produced it.
type notificationService struct {
	db *gorm.DB
}

// NewNotificationService creates a new NotificationServicer.
func NewNotificationService(db *gorm.DB) NotificationServicer {
	return &notificationService{db: db}
}

// NotifyUser writes an inbox row for a single user.
func (s *notificationService) NotifyUser(userID uint, eventType models.NotificationType, payload map[string]any) {
	s.insert(userID, eventType, payload)
}

// NotifyFamilyParents fans an event out to every parent in a family.
func (s *notificationService) NotifyFamilyParents(familyID uint, eventType models.NotificationType, payload map[string]any) {
	var parents []models.User
	if err := s.db.Where("family_id = ? AND role = ? AND is_active = ?", familyID, models.RoleParent, true).
		Find(&parents).Error; err != nil {
		logger.Get().Errorw("failed to load parents for notification fan-out",
			"error", err, "family_id", familyID, "type", eventType)
		return
	}

	for _, parent := range parents {
		s.insert(parent.ID, eventType, payload)
	}
}

func (s *notificationService) insert(userID uint, eventType models.NotificationType, payload map[string]any) {
	var payloadJSON string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.Get().Errorw("failed to marshal notification payload", "error", err, "type", eventType)
			payloadJSON = "{}"
		} else {
			payloadJSON = string(data)
		}
	}

	notification := &models.Notification{
		UserID:  userID,
		Type:    eventType,
		Payload: payloadJSON,
	}

	if err := s.db.Create(notification).Error; err != nil {
		logger.Get().Errorw("failed to create notification",
			"error", err,
			"user_id", userID,
			"type", eventType,
		)
	}
}

// GetUserNotifications retrieves a user's notifications, newest first.
func (s *notificationService) GetUserNotifications(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Notification], error) {
	page.Defaults()

	base := s.db.Model(&models.Notification{}).Where("user_id = ?", userID)

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var notifications []models.Notification
	if err := base.Scopes(pagination.Paginate(page)).
		Order("created_at DESC").
		Find(&notifications).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(notifications, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *notificationService) MarkRead(userID, notificationID uint) error {
	var notification models.Notification
	if err := s.db.Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotificationNotFound
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if notification.ReadAt != nil {
		return nil
	}

	now := time.Now()
	if err := s.db.Model(&notification).Update("read_at", now).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}
