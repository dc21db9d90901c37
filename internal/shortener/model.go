package shortener

import (
	"encoding/json"
	"strconv"
	"time"
)

// Link is the record stored under link:{slug}. Times are epoch seconds.
type Link struct {
	ID         string `json:"id,omitempty"`
	Slug       string `json:"slug"`
	URL        string `json:"url"`
	Comment    string `json:"comment,omitempty"`
	Expiration int64  `json:"expiration,omitempty"` // 0: never expires
	CreatedAt  int64  `json:"createdAt,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// Expired reports whether the link has an expiration at or before now.
func (l Link) Expired(now time.Time) bool {
	return l.Expiration > 0 && now.Unix() >= l.Expiration
}

// ExpiresAt returns the expiration as a time, or the zero time when the link never expires.
func (l Link) ExpiresAt() time.Time {
	if l.Expiration == 0 {
		return time.Time{}
	}
	return time.Unix(l.Expiration, 0)
}

// metadata is what the store keeps beside the serialized record.
func (l Link) metadata() map[string]string {
	meta := map[string]string{"url": l.URL}
	if l.Expiration > 0 {
		meta["expiration"] = strconv.FormatInt(l.Expiration, 10)
	}
	if l.Comment != "" {
		meta["comment"] = l.Comment
	}
	return meta
}

func encodeLink(l Link) ([]byte, error) { return json.Marshal(l) }

func decodeLink(b []byte) (Link, error) {
	var l Link
	err := json.Unmarshal(b, &l)
	return l, err
}
