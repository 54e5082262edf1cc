package content

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// body is the request payload accepted by create and update. Older clients
// send the body text as "text", newer ones as "description".
type body struct {
	Title       *string `json:"title"`
	Text        *string `json:"text"`
	Description *string `json:"description"`
	ContentType *string `json:"contentType"`
	Image       *string `json:"image"`
	ExternalURL *string `json:"externalUrl"`
	Platform    *string `json:"platform"`
}

func decodeBody(r io.Reader) (*body, error) {
	var b body
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrInvalid, err)
	}
	return &b, nil
}

// Update is a mapped update request. A nil Title, Description or ContentType
// leaves the stored value alone; a nil Image, ExternalURL or Platform clears it.
type Update struct {
	Title       *string
	Description *string
	ContentType *string
	Image       *string
	ExternalURL *string
	Platform    *string
}

// ParseUpdate decodes and maps an update request body.
func ParseUpdate(r io.Reader) (Update, error) {
	b, err := decodeBody(r)
	if err != nil {
		return Update{}, err
	}

	desc := orNil(b.Text)
	if desc == nil {
		desc = orNil(b.Description)
	}
	u := Update{
		Title:       b.Title,
		Description: desc,
		ContentType: orNil(b.ContentType),
		Image:       orNil(b.Image),
		ExternalURL: orNil(b.ExternalURL),
		Platform:    orNil(b.Platform),
	}
	if err := u.Validate(); err != nil {
		return Update{}, err
	}
	return u, nil
}

// Validate checks enum fields that are present.
func (u Update) Validate() error {
	err := validation.ValidateStruct(&u,
		validation.Field(&u.ContentType, validation.In(TypeImage, TypeVideo, TypePost)),
		validation.Field(&u.Platform, validation.In(PlatformYouTube, PlatformFacebook, PlatformInstagram,
			PlatformTwitter, PlatformTikTok, PlatformNone)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// CamelPayload returns the update keyed by camelCase column names. Absent
// title, description and contentType are left out; the remaining fields are
// always sent so that an omitted value clears the column.
func (u Update) CamelPayload() map[string]any {
	return u.payload("contentType", "externalUrl")
}

// LowerPayload is CamelPayload keyed by the lowercase column names Postgres
// produces for unquoted identifiers.
func (u Update) LowerPayload() map[string]any {
	return u.payload("contenttype", "externalurl")
}

func (u Update) payload(contentTypeKey, externalURLKey string) map[string]any {
	p := map[string]any{
		"image":        u.Image,
		externalURLKey: u.ExternalURL,
		"platform":     u.Platform,
	}
	if u.Title != nil {
		p["title"] = *u.Title
	}
	if u.Description != nil {
		p["description"] = *u.Description
	}
	if u.ContentType != nil {
		p[contentTypeKey] = *u.ContentType
	}
	return p
}

// Apply merges the update into c and stamps UpdatedAt.
func (c *Content) Apply(u Update, now time.Time) {
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Description != nil {
		c.Description = u.Description
	}
	if u.ContentType != nil {
		c.ContentType = u.ContentType
	}
	c.Image = u.Image
	c.ExternalURL = u.ExternalURL
	c.Platform = u.Platform
	c.UpdatedAt = &now
}

// ParseNew decodes a create request body, applying the image / none defaults.
// The caller assigns ID and timestamps.
func ParseNew(r io.Reader) (*Content, error) {
	b, err := decodeBody(r)
	if err != nil {
		return nil, err
	}

	c := &Content{
		Description: orNil(b.Text),
		ContentType: orNil(b.ContentType),
		Image:       orNil(b.Image),
		ExternalURL: orNil(b.ExternalURL),
		Platform:    orNil(b.Platform),
	}
	if c.Description == nil {
		c.Description = orNil(b.Description)
	}
	if b.Title != nil {
		c.Title = *b.Title
	}
	if c.ContentType == nil {
		c.ContentType = Ptr(TypeImage)
	}
	if c.Platform == nil {
		c.Platform = Ptr(PlatformNone)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks a complete record before it is created.
func (c *Content) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Title, validation.Required),
		validation.Field(&c.ContentType, validation.Required, validation.In(TypeImage, TypeVideo, TypePost)),
		validation.Field(&c.Platform, validation.In(PlatformYouTube, PlatformFacebook, PlatformInstagram,
			PlatformTwitter, PlatformTikTok, PlatformNone)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func orNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
