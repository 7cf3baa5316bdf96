package datastore

import (
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/examtrack/examtrack-go/internal/notification"
)

// toRecord converts the in-flight notification form to its persistence row.
func toRecord(n *notification.Notification) *NotificationRecord {
	return &NotificationRecord{
		ID:             n.ID,
		Type:           string(n.Type),
		Priority:       string(n.Priority),
		Status:         string(n.Status),
		Title:          n.Title,
		Message:        n.Message,
		Component:      n.Component,
		Recipient:      n.Recipient,
		RelatedType:    n.RelatedType,
		RelatedID:      n.RelatedID,
		Metadata:       n.Metadata,
		ReadAt:         n.ReadAt,
		AcknowledgedAt: n.AcknowledgedAt,
		DismissedAt:    n.DismissedAt,
		ExpiresAt:      n.ExpiresAt,
		CreatedAt:      n.Timestamp,
	}
}

// fromRecord converts a persistence row back to the in-flight form.
func fromRecord(r *NotificationRecord) *notification.Notification {
	return &notification.Notification{
		ID:             r.ID,
		Type:           notification.Type(r.Type),
		Priority:       notification.Priority(r.Priority),
		Status:         notification.Status(r.Status),
		Title:          r.Title,
		Message:        r.Message,
		Component:      r.Component,
		Recipient:      r.Recipient,
		RelatedType:    r.RelatedType,
		RelatedID:      r.RelatedID,
		Metadata:       r.Metadata,
		ReadAt:         r.ReadAt,
		AcknowledgedAt: r.AcknowledgedAt,
		DismissedAt:    r.DismissedAt,
		ExpiresAt:      r.ExpiresAt,
		Timestamp:      r.CreatedAt,
	}
}

// Save persists a notification record.
func (ds *DataStore) Save(n *notification.Notification) error {
	if err := ds.DB.Create(toRecord(n)).Error; err != nil {
		return dbError(err, "save_notification")
	}
	return nil
}

// Get retrieves a notification by ID.
func (ds *DataStore) Get(id string) (*notification.Notification, error) {
	var record NotificationRecord
	if err := ds.DB.First(&record, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, dbError(err, "get_notification")
	}
	return fromRecord(&record), nil
}

// List returns filtered notification records, newest first.
func (ds *DataStore) List(filter *notification.FilterOptions) ([]*notification.Notification, error) {
	query := ds.DB.Model(&NotificationRecord{})

	if filter != nil {
		if filter.Recipient != "" {
			query = query.Where("recipient = ?", filter.Recipient)
		}
		if len(filter.Types) > 0 {
			query = query.Where("type IN ?", filter.Types)
		}
		if len(filter.Priorities) > 0 {
			query = query.Where("priority IN ?", filter.Priorities)
		}
		if len(filter.Status) > 0 {
			query = query.Where("status IN ?", filter.Status)
		}
		if filter.RelatedType != "" {
			query = query.Where("related_type = ?", filter.RelatedType)
		}
		if filter.RelatedID != "" {
			query = query.Where("related_id = ?", filter.RelatedID)
		}
		if filter.Since != nil {
			query = query.Where("created_at >= ?", *filter.Since)
		}
		if filter.Until != nil {
			query = query.Where("created_at <= ?", *filter.Until)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}

	var records []NotificationRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, dbError(err, "list_notifications")
	}

	results := make([]*notification.Notification, 0, len(records))
	for i := range records {
		results = append(results, fromRecord(&records[i]))
	}
	return results, nil
}

// Update modifies an existing notification record. The update is struct
// based (with an explicit column selection) so the metadata JSON serializer
// applies and zero-valued columns are still written.
func (ds *DataStore) Update(n *notification.Notification) error {
	record := toRecord(n)
	res := ds.DB.Model(&NotificationRecord{ID: record.ID}).
		Select("status", "title", "message", "metadata",
			"read_at", "acknowledged_at", "dismissed_at", "expires_at", "updated_at").
		Updates(record)
	if res.Error != nil {
		return dbError(res.Error, "update_notification")
	}
	if res.RowsAffected == 0 {
		return notification.ErrNotificationNotFound
	}
	return nil
}

// Delete removes a notification record.
func (ds *DataStore) Delete(id string) error {
	if err := ds.DB.Delete(&NotificationRecord{}, "id = ?", id).Error; err != nil {
		return dbError(err, "delete_notification")
	}
	return nil
}

// DeleteExpired removes all notification records past their expiry.
func (ds *DataStore) DeleteExpired() error {
	err := ds.DB.
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&NotificationRecord{}).Error
	if err != nil {
		return dbError(err, "delete_expired_notifications")
	}
	return nil
}

// UnreadCount counts unread notifications, optionally for one recipient.
func (ds *DataStore) UnreadCount(recipient string) (int, error) {
	query := ds.DB.Model(&NotificationRecord{}).
		Where("status = ?", string(notification.StatusUnread))
	if recipient != "" {
		query = query.Where("recipient = ?", recipient)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, dbError(err, "unread_count")
	}
	return int(count), nil
}

// UpdateStatusByRelated bulk-transitions the notifications referencing a
// related entity whose status is currently in from. Runs as one conditional
// UPDATE so racing transitions settle on the database's row ordering.
func (ds *DataStore) UpdateStatusByRelated(relatedType, relatedID string, from []notification.Status, to notification.Status) (int, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": touch(),
	}
	now := time.Now()
	switch to {
	case notification.StatusRead:
		updates["read_at"] = now
	case notification.StatusAcknowledged:
		updates["acknowledged_at"] = now
	case notification.StatusDismissed:
		updates["dismissed_at"] = now
	case notification.StatusUnread:
		// bulk transitions never reset to unread
	}

	query := ds.DB.Model(&NotificationRecord{}).
		Where("related_type = ? AND related_id = ?", relatedType, relatedID)
	if len(from) > 0 {
		statuses := make([]string, 0, len(from))
		for _, s := range from {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status IN ?", statuses)
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return 0, dbError(res.Error, "update_status_by_related")
	}
	return int(res.RowsAffected), nil
}
