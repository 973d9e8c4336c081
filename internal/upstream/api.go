package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limits documented by the Helix API
const (
	// MaxBatchSize is the maximum number of identifiers per users/channels lookup
	MaxBatchSize = 100
	// PageSize is the maximum number of follows returned per page
	PageSize = 100
)

// ErrLookup is returned when neither an identifier nor a name identifies an entity
var ErrLookup = errors.New("lookup error")

// ApiError is a transport or HTTP failure talking to the upstream API
type ApiError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ApiError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("api %s: %v", e.Endpoint, e.Err)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// User holds the identity/profile fields of an account
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	BroadcasterType string    `json:"broadcaster_type"`
	Description     string    `json:"description"`
	ProfileImageURL string    `json:"profile_image_url"`
	ViewCount       int64     `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Channel holds the channel/category fields of an account
type Channel struct {
	BroadcasterID       string `json:"broadcaster_id"`
	BroadcasterLanguage string `json:"broadcaster_language"`
	GameName            string `json:"game_name"`
}

// FollowPage is one page of an outbound follow list
type FollowPage struct {
	Targets []string
	// NextCursor is empty on the last page
	NextCursor string
}

// API is the upstream fetch interface
type API interface {
	// Users looks up accounts by identifier or by login (at most MaxBatchSize in total)
	Users(ctx context.Context, ids, logins []string) ([]User, error)
	// Channels looks up channel data by broadcaster identifier (at most MaxBatchSize)
	Channels(ctx context.Context, ids []string) ([]Channel, error)
	// Follows returns one page of the accounts fromID follows
	Follows(ctx context.Context, fromID, cursor string) (FollowPage, error)
	// FollowerCount returns how many accounts follow toID
	FollowerCount(ctx context.Context, toID string) (int64, error)
}
