package sync

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// legacyPerPage is the page size every cursor used before the size was made
// explicit. Plain-integer cursors from that era are still parsed.
const legacyPerPage = 20

// defaultPerPage is the page size a fresh task starts with.
const defaultPerPage = 20

// PageCursor addresses one page of a paginated GitHub listing. It survives
// page-size changes: Scale re-addresses the same first item under a new size.
type PageCursor struct {
	PerPage int `json:"perPage"`
	PageNo  int `json:"pageNo"`
}

// ParsePageCursor decodes a stored cursor. An empty string starts from the
// beginning and a bare integer is a legacy cursor at the old fixed page size.
func ParsePageCursor(raw string) (PageCursor, error) {
	if raw == "" {
		return PageCursor{PerPage: defaultPerPage, PageNo: 1}, nil
	}
	if pageNo, err := strconv.Atoi(raw); err == nil {
		return PageCursor{PerPage: legacyPerPage, PageNo: pageNo}, nil
	}
	var c PageCursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return PageCursor{}, fmt.Errorf("failed to parse page cursor %q: %w", raw, err)
	}
	if c.PerPage <= 0 || c.PageNo <= 0 {
		return PageCursor{}, fmt.Errorf("invalid page cursor %q", raw)
	}
	return c, nil
}

// Scale converts the cursor to a new page size, keeping the position of the
// first not-yet-processed item. The new page starts at or before that item,
// so items may repeat but are never skipped.
func (c PageCursor) Scale(newPerPage int) PageCursor {
	if newPerPage == c.PerPage {
		return c
	}
	firstItem := (c.PageNo - 1) * c.PerPage
	return PageCursor{
		PerPage: newPerPage,
		PageNo:  firstItem/newPerPage + 1,
	}
}

// CopyWithPageNo returns the cursor advanced (or rewound) to the given page.
func (c PageCursor) CopyWithPageNo(pageNo int) PageCursor {
	return PageCursor{PerPage: c.PerPage, PageNo: pageNo}
}

// Serialise renders the cursor for storage.
func (c PageCursor) Serialise() string {
	b, _ := json.Marshal(c)
	return string(b)
}
