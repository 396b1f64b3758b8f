package notifications

import (
	"encoding/json"
	"fmt"
	"time"
)

var _ json.Marshaler = &Data{}

// jsonMap is a type alias for a JSON-compatible map.
type jsonMap = map[string]any

// MarshalJSON implements json.Marshaler for Data.
//
// Returns:
//   - []byte: JSON-encoded data.
//   - error: Non-nil if marshaling fails, nil on success.
func (d Data) MarshalJSON() ([]byte, error) {
	record := d.Record

	var newDigest, message any
	if record.NewDigest != nil {
		newDigest = record.NewDigest.String()
	}

	if record.ErrorMessage != nil {
		message = *record.ErrorMessage
	}

	data, err := json.Marshal(jsonMap{
		"title": d.Title,
		"host":  d.Host,
		"record": jsonMap{
			"id":             record.ID,
			"attempt_id":     record.AttemptID,
			"container_id":   record.ContainerID,
			"container_name": record.ContainerName,
			"old_image":      record.OldImage,
			"new_image":      record.NewImage,
			"old_digest":     record.OldDigest,
			"new_digest":     newDigest,
			"status":         record.Status,
			"error_message":  message,
			"started_at":     record.StartedAt.Format(time.RFC3339),
			"updated_at":     record.UpdatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification data: %w", err)
	}

	return data, nil
}
