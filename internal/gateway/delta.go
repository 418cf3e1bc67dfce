package gateway

import (
	"context"
	"net/http"
	"net/url"

	"driftmirror/internal/metrics"
)

// DeltaItem is a single provider-reported change. Tombstone is set when the
// provider reports the item as removed; ParentExternalID is nil for items at
// drive root.
type DeltaItem struct {
	ExternalID       string  `json:"id"`
	Name             string  `json:"name"`
	ParentExternalID *string `json:"parentId,omitempty"`
	KindFlag         string  `json:"kind"`
	Tombstone        bool    `json:"deleted,omitempty"`
}

// DeltaPage is a single page from the delta endpoint. Exactly one of
// NextCursor and FinalCursor is set.
type DeltaPage struct {
	Items       []DeltaItem `json:"items"`
	NextCursor  *string     `json:"nextCursor,omitempty"`
	FinalCursor *string     `json:"finalCursor,omitempty"`
}

// Delta fetches a single page of the delta feed. A nil cursor requests a
// full sync from the provider.
func (c *Client) Delta(ctx context.Context, driveID string, cursor *string) (*DeltaPage, error) {
	q := url.Values{}
	if cursor != nil {
		q.Set("cursor", *cursor)
	}
	path := "/drives/" + url.PathEscape(driveID) + "/delta"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page DeltaPage
	if err := c.doRequest(ctx, metrics.OpDelta, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeltaComplete follows the next_cursor chain transparently, accumulating
// items across every page and returning the final_cursor from the terminal
// page. Callers never see pagination.
func (c *Client) DeltaComplete(ctx context.Context, driveID string, cursor *string) ([]DeltaItem, string, error) {
	var all []DeltaItem
	next := cursor
	for {
		page, err := c.Delta(ctx, driveID, next)
		if err != nil {
			return nil, "", err
		}
		all = append(all, page.Items...)

		if page.FinalCursor != nil {
			return all, *page.FinalCursor, nil
		}
		if page.NextCursor == nil {
			// Defensive: a well-behaved provider always sets one of the two,
			// but treat an empty page as terminal rather than looping forever.
			return all, "", nil
		}
		next = page.NextCursor
	}
}
