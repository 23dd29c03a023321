package storageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ConfigurationRow is one row of a component configuration.
type ConfigurationRow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	IsDisabled    bool            `json:"isDisabled"`
	Configuration json.RawMessage `json:"configuration"`
}

// RowUpdate lists the row fields to change. Nil fields are left untouched.
type RowUpdate struct {
	Configuration     json.RawMessage
	IsDisabled        *bool
	ChangeDescription string
}

func (u RowUpdate) form() url.Values {
	v := url.Values{}
	if u.Configuration != nil {
		v.Set("configuration", string(u.Configuration))
	}
	if u.IsDisabled != nil {
		v.Set("isDisabled", strconv.FormatBool(*u.IsDisabled))
	}
	if u.ChangeDescription != "" {
		v.Set("changeDescription", u.ChangeDescription)
	}
	return v
}

func rowsPath(componentID, configID string) string {
	return "/components/" + url.PathEscape(componentID) + "/configs/" + url.PathEscape(configID) + "/rows"
}

// ListConfigurationRows lists the rows of a component configuration.
func (c *Client) ListConfigurationRows(ctx context.Context, componentID, configID string) ([]ConfigurationRow, error) {
	body, err := c.get(ctx, rowsPath(componentID, configID), nil)
	if err != nil {
		return nil, fmt.Errorf("list rows of %s/%s: %w", componentID, configID, err)
	}
	var rows []ConfigurationRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse rows of %s/%s: %w", componentID, configID, err)
	}
	return rows, nil
}

// UpdateConfigurationRow updates one configuration row.
func (c *Client) UpdateConfigurationRow(ctx context.Context, componentID, configID, rowID string, upd RowUpdate) (*ConfigurationRow, error) {
	var row ConfigurationRow
	path := rowsPath(componentID, configID) + "/" + url.PathEscape(rowID)
	if err := c.send(ctx, http.MethodPut, path, nil, upd.form(), &row); err != nil {
		return nil, fmt.Errorf("update row %s of %s/%s: %w", rowID, componentID, configID, err)
	}
	return &row, nil
}
