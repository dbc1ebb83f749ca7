package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// AfterID decodes a page token into the keyset id it continues from.
// An empty token starts from the beginning.
func AfterID(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(cursor.ID, 10, 64)
}

// BuildCursorPageInfo trims data fetched with limit+1 rows and returns the page info.
func BuildCursorPageInfo[T any](data []*T, limit int, extractID func(*T) int64) ([]*T, PageInfo) {
	if len(data) <= limit {
		return data, PageInfo{}
	}
	data = data[:limit]
	token, err := EncodeCursor(Cursor{ID: strconv.FormatInt(extractID(data[len(data)-1]), 10)})
	if err != nil {
		return data, PageInfo{}
	}
	return data, PageInfo{NextPageToken: token, HasMore: true}
}
