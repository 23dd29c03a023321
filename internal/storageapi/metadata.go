package storageapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// MetadataKV is a metadata key/value written under a provider.
type MetadataKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TableMetadataUpdate writes column metadata of one provider.
type TableMetadataUpdate struct {
	Provider        string                  `json:"provider"`
	ColumnsMetadata map[string][]MetadataKV `json:"columnsMetadata"`
}

// PostTableMetadataWithColumns upserts column metadata of a table under one provider.
func (c *Client) PostTableMetadataWithColumns(ctx context.Context, tableID string, upd TableMetadataUpdate) error {
	if err := c.send(ctx, http.MethodPost, "/tables/"+url.PathEscape(tableID)+"/metadata", nil, upd, nil); err != nil {
		return fmt.Errorf("write %s metadata of %s: %w", upd.Provider, tableID, err)
	}
	return nil
}
