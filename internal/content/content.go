// Package content defines the content record served by the API and the
// reconciliation between backend column names and the camelCase wire shape.
package content

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a backend holds no record for an ID.
	ErrNotFound = errors.New("content not found")
	// ErrInvalid is returned when a request body fails validation.
	ErrInvalid = errors.New("invalid content")
)

// Content types.
const (
	TypeImage = "image"
	TypeVideo = "video"
	TypePost  = "post"
)

// Platforms a video or post can come from.
const (
	PlatformYouTube   = "youtube"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTwitter   = "twitter"
	PlatformTikTok    = "tiktok"
	PlatformNone      = "none"
)

// Content is a single image, video or social post.
type Content struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	ContentType *string    `json:"contentType"`
	Image       *string    `json:"image"`
	ExternalURL *string    `json:"externalUrl"`
	Platform    *string    `json:"platform"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// Column aliases, most specific first. Postgres folds unquoted identifiers to
// lowercase, the file store predates the description column, and some
// deployments use snake_case.
var (
	idKeys          = []string{"id", "_id"}
	descriptionKeys = []string{"description", "text"}
	contentTypeKeys = []string{"contentType", "contenttype", "content_type"}
	externalURLKeys = []string{"externalUrl", "externalurl", "external_url"}
	createdAtKeys   = []string{"createdAt", "createdat", "created_at"}
	updatedAtKeys   = []string{"updatedAt", "updatedat", "updated_at"}
)

// FromRow maps a row keyed by backend column names onto a Content.
func FromRow(row map[string]any) *Content {
	c := &Content{
		Description: stringValue(first(row, descriptionKeys...)),
		ContentType: stringValue(first(row, contentTypeKeys...)),
		Image:       stringValue(first(row, "image")),
		ExternalURL: stringValue(first(row, externalURLKeys...)),
		Platform:    stringValue(first(row, "platform")),
		CreatedAt:   timeValue(first(row, createdAtKeys...)),
		UpdatedAt:   timeValue(first(row, updatedAtKeys...)),
	}
	if id := stringValue(first(row, idKeys...)); id != nil {
		c.ID = *id
	}
	if title := stringValue(first(row, "title")); title != nil {
		c.Title = *title
	}
	return c
}

// MatchesID reports whether a row is the record with the given ID, checking
// the legacy _id key as well.
func MatchesID(row map[string]any, id string) bool {
	for _, k := range idKeys {
		if v := stringValue(row[k]); v != nil && *v == id {
			return true
		}
	}
	return false
}

func first(row map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringValue(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case *string:
		return t
	case []byte:
		s = string(t)
	case [16]byte:
		s = uuid.UUID(t).String()
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func timeValue(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
