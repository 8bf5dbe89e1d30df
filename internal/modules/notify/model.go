// README: Device tokens and notification errors.
package notify

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

type DeviceToken struct {
	UserID    types.ID  `json:"userId"`
	Token     string    `json:"token"`
	Platform  Platform  `json:"platform"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventNotification is used for the realtime copy when data carries no event.
const EventNotification = "notification"

var ErrBadRequest = apperr.BadRequest("invalid device token")
