package storageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ColumnDefinition is the native type of a typed-table column.
type ColumnDefinition struct {
	Type     string  `json:"type"`
	Length   string  `json:"length,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// TableColumn is one column of a typed table schema.
type TableColumn struct {
	Name       string           `json:"name"`
	Definition ColumnDefinition `json:"definition"`
	Basetype   string           `json:"basetype,omitempty"`
}

// TableDefinition is the typed schema of a table.
type TableDefinition struct {
	PrimaryKeysNames []string      `json:"primaryKeysNames"`
	Columns          []TableColumn `json:"columns"`
}

// TableBucket is the owning bucket embedded in a table response.
type TableBucket struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Table is a storage table as returned by the API. Raw keeps the full
// response object.
type Table struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	IsTyped    bool             `json:"isTyped"`
	Bucket     TableBucket      `json:"bucket"`
	Columns    []string         `json:"columns"`
	PrimaryKey []string         `json:"primaryKey"`
	Definition *TableDefinition `json:"definition"`

	Raw json.RawMessage `json:"-"`
}

// Distribution describes how a typed table is distributed.
type Distribution struct {
	Type                     string   `json:"type"`
	DistributionColumnsNames []string `json:"distributionColumnsNames,omitempty"`
}

// Index describes the index of a typed table.
type Index struct {
	Type              string   `json:"type"`
	IndexColumnsNames []string `json:"indexColumnsNames,omitempty"`
}

// CreateTableDefinitionRequest creates a typed table from its schema.
type CreateTableDefinitionRequest struct {
	Name             string        `json:"name"`
	PrimaryKeysNames []string      `json:"primaryKeysNames"`
	Columns          []TableColumn `json:"columns"`
	Distribution     *Distribution `json:"distribution,omitempty"`
	Index            *Index        `json:"index,omitempty"`
}

// CreateTableRequest creates an untyped table from a staged CSV file.
type CreateTableRequest struct {
	Name                       string
	PrimaryKey                 []string
	DistributionKey            []string
	Transactional              bool
	Columns                    []string
	SyntheticPrimaryKeyEnabled *bool
}

type createTableAsyncBody struct {
	Name                       string   `json:"name"`
	DataFileID                 int64    `json:"dataFileId"`
	PrimaryKey                 string   `json:"primaryKey,omitempty"`
	DistributionKey            string   `json:"distributionKey,omitempty"`
	Transactional              bool     `json:"transactional,omitempty"`
	Columns                    []string `json:"columns,omitempty"`
	SyntheticPrimaryKeyEnabled *bool    `json:"syntheticPrimaryKeyEnabled,omitempty"`
}

// AddColumnRequest adds one column. Definition and Basetype are only sent
// for typed tables.
type AddColumnRequest struct {
	Name       string            `json:"name"`
	Definition *ColumnDefinition `json:"definition,omitempty"`
	Basetype   string            `json:"basetype,omitempty"`
}

// GetTable fetches one table including its column metadata.
func (c *Client) GetTable(ctx context.Context, id string) (*Table, error) {
	q := url.Values{"include": {"columnMetadata"}}
	body, err := c.get(ctx, "/tables/"+url.PathEscape(id), q)
	if err != nil {
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	t, err := decodeTable(body)
	if err != nil {
		return nil, fmt.Errorf("parse table %s: %w", id, err)
	}
	return t, nil
}

// ListTables lists the tables of a bucket.
func (c *Client) ListTables(ctx context.Context, bucketID string) ([]Table, error) {
	body, err := c.get(ctx, "/buckets/"+url.PathEscape(bucketID)+"/tables", nil)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", bucketID, err)
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("parse tables of %s: %w", bucketID, err)
	}
	out := make([]Table, 0, len(items))
	for _, item := range items {
		t, err := decodeTable(item)
		if err != nil {
			return nil, fmt.Errorf("parse tables of %s: %w", bucketID, err)
		}
		out = append(out, *t)
	}
	return out, nil
}

// CreateTableDefinition creates a typed table and returns it.
func (c *Client) CreateTableDefinition(ctx context.Context, bucketID string, req CreateTableDefinitionRequest) (*Table, error) {
	var t Table
	path := "/buckets/" + url.PathEscape(bucketID) + "/tables-definition"
	if err := c.send(ctx, http.MethodPost, path, nil, req, &t); err != nil {
		return nil, fmt.Errorf("create typed table %s.%s: %w", bucketID, req.Name, err)
	}
	return &t, nil
}

// CreateTableAsync stages the CSV at dataPath and creates an untyped table
// from it. It returns the id of the new table.
func (c *Client) CreateTableAsync(ctx context.Context, bucketID string, req CreateTableRequest, dataPath string) (string, error) {
	file, err := c.UploadFile(ctx, dataPath)
	if err != nil {
		return "", fmt.Errorf("create table %s.%s: %w", bucketID, req.Name, err)
	}

	body := createTableAsyncBody{
		Name:                       req.Name,
		DataFileID:                 file.ID,
		PrimaryKey:                 strings.Join(req.PrimaryKey, ","),
		DistributionKey:            strings.Join(req.DistributionKey, ","),
		Transactional:              req.Transactional,
		Columns:                    req.Columns,
		SyntheticPrimaryKeyEnabled: req.SyntheticPrimaryKeyEnabled,
	}
	var created struct {
		ID string `json:"id"`
	}
	path := "/buckets/" + url.PathEscape(bucketID) + "/tables-async"
	if err := c.send(ctx, http.MethodPost, path, nil, body, &created); err != nil {
		return "", fmt.Errorf("create table %s.%s: %w", bucketID, req.Name, err)
	}
	return created.ID, nil
}

// DropTable removes a table.
func (c *Client) DropTable(ctx context.Context, id string, opts DropOptions) error {
	if err := c.send(ctx, http.MethodDelete, "/tables/"+url.PathEscape(id), opts.query(), nil, nil); err != nil {
		return fmt.Errorf("drop table %s: %w", id, err)
	}
	return nil
}

// AddTableColumn adds a column to a table.
func (c *Client) AddTableColumn(ctx context.Context, tableID string, req AddColumnRequest) error {
	if err := c.send(ctx, http.MethodPost, "/tables/"+url.PathEscape(tableID)+"/columns", nil, req, nil); err != nil {
		return fmt.Errorf("add column %s to %s: %w", req.Name, tableID, err)
	}
	return nil
}

// DeleteTableColumn removes a column from a table.
func (c *Client) DeleteTableColumn(ctx context.Context, tableID, column string, opts DropOptions) error {
	path := "/tables/" + url.PathEscape(tableID) + "/columns/" + url.PathEscape(column)
	if err := c.send(ctx, http.MethodDelete, path, opts.query(), nil, nil); err != nil {
		return fmt.Errorf("drop column %s of %s: %w", column, tableID, err)
	}
	return nil
}

// CreateTablePrimaryKey sets the primary key of a table to columns, in order.
func (c *Client) CreateTablePrimaryKey(ctx context.Context, tableID string, columns []string) error {
	body := map[string][]string{"columns": columns}
	if err := c.send(ctx, http.MethodPost, "/tables/"+url.PathEscape(tableID)+"/primary-key", nil, body, nil); err != nil {
		return fmt.Errorf("create primary key of %s: %w", tableID, err)
	}
	return nil
}

// RemoveTablePrimaryKey removes the primary key of a table.
func (c *Client) RemoveTablePrimaryKey(ctx context.Context, tableID string) error {
	if err := c.send(ctx, http.MethodDelete, "/tables/"+url.PathEscape(tableID)+"/primary-key", nil, nil, nil); err != nil {
		return fmt.Errorf("remove primary key of %s: %w", tableID, err)
	}
	return nil
}

func decodeTable(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	t.Raw = append(json.RawMessage(nil), data...)
	return &t, nil
}
