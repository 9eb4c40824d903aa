package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ghfeed/internal/model"
	"ghfeed/internal/storage"
)

// ErrInvalidCursor is returned for a cursor that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor returns the opaque cursor positioned at item.
func EncodeCursor(item model.ActivityItem) string {
	raw := strconv.FormatInt(item.PublishedAt.UnixMilli(), 10) + ":" + item.AccountLogin + ":" + item.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor. A bare decimal
// timestamp in epoch milliseconds is accepted too and positions strictly
// before that instant.
func DecodeCursor(cursor string) (storage.Position, error) {
	if ms, err := strconv.ParseInt(cursor, 10, 64); err == nil {
		return storage.Position{PublishedAt: time.UnixMilli(ms).UTC(), TimeOnly: true}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return storage.Position{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return storage.Position{}, fmt.Errorf("%w: malformed position", ErrInvalidCursor)
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return storage.Position{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return storage.Position{
		PublishedAt:  time.UnixMilli(ms).UTC(),
		AccountLogin: parts[1],
		ID:           parts[2],
	}, nil
}
