package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// stagePrefix is how stage buckets are addressed. Buckets are created without it.
const stagePrefix = "c-"

// reservedProviders are metadata namespaces owned by the storage backend.
var reservedProviders = map[string]bool{
	"system":  true,
	"storage": true,
}

// IsReservedProvider reports whether metadata under provider must never be replayed.
func IsReservedProvider(provider string) bool {
	return reservedProviders[provider]
}

// BucketSpec describes a bucket to create.
type BucketSpec struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required"`
	Stage       string `json:"stage" validate:"required,oneof=in out"`
	Description string `json:"description"`
	Backend     string `json:"backend,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// NormalizeBucketName strips the "c-" stage prefix from a bucket name.
func NormalizeBucketName(name string) string {
	return strings.TrimPrefix(name, stagePrefix)
}

// BucketRef points at the bucket owning a table.
type BucketRef struct {
	ID string `json:"id" validate:"required"`
}

// ColumnTypeDefinition is the native type of a typed-table column.
type ColumnTypeDefinition struct {
	Type     string  `json:"type" validate:"required"`
	Length   string  `json:"length,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// TypedColumn is one column of a typed table schema.
type TypedColumn struct {
	Name          string               `json:"name" validate:"required"`
	Definition    ColumnTypeDefinition `json:"definition"`
	Basetype      string               `json:"basetype,omitempty"`
	CanBeFiltered *bool                `json:"canBeFiltered,omitempty"`
}

// TableDefinition is the typed schema of a table.
type TableDefinition struct {
	PrimaryKeysNames []string      `json:"primaryKeysNames"`
	Columns          []TypedColumn `json:"columns" validate:"required,min=1,dive"`
}

// MetadataEntry is a single metadata key/value under a provider namespace.
type MetadataEntry struct {
	Provider string `json:"provider" validate:"required"`
	Key      string `json:"key" validate:"required"`
	Value    string `json:"value"`
}

// ColumnMetadata maps a column name to its metadata entries.
type ColumnMetadata map[string][]MetadataEntry

// UnmarshalJSON accepts an object, null, or an empty list. The Storage API
// serializes a table without column metadata as [].
func (cm *ColumnMetadata) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*cm = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			return fmt.Errorf("columnMetadata must be an object keyed by column name, got a list of %d items", len(list))
		}
		*cm = ColumnMetadata{}
		return nil
	}
	var m map[string][]MetadataEntry
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*cm = m
	return nil
}

// TableSpec describes a table to create.
type TableSpec struct {
	ID      string    `json:"id,omitempty"`
	Name    string    `json:"name" validate:"required"`
	Bucket  BucketRef `json:"bucket"`
	IsTyped bool      `json:"isTyped"`

	// Typed tables.
	Definition       *TableDefinition `json:"definition,omitempty" validate:"required_if=IsTyped true"`
	DistributionType string           `json:"distributionType,omitempty"`
	IndexType        string           `json:"indexType,omitempty"`
	IndexKey         []string         `json:"indexKey,omitempty"`

	// Untyped tables.
	Columns                    []string `json:"columns,omitempty" validate:"required_if=IsTyped false"`
	PrimaryKey                 []string `json:"primaryKey,omitempty"`
	Transactional              bool     `json:"transactional,omitempty"`
	SyntheticPrimaryKeyEnabled *bool    `json:"syntheticPrimaryKeyEnabled,omitempty"`

	// Both kinds.
	DistributionKey []string       `json:"distributionKey,omitempty"`
	ColumnMetadata  ColumnMetadata `json:"columnMetadata,omitempty" validate:"omitempty,dive,dive"`
}

// TableMetadataSpec is the part of a table descriptor read when editing
// column metadata of an existing table.
type TableMetadataSpec struct {
	ID             string         `json:"id" validate:"required"`
	Name           string         `json:"name,omitempty"`
	ColumnMetadata ColumnMetadata `json:"columnMetadata,omitempty" validate:"omitempty,dive,dive"`
}

// ColumnSpec describes a column to add. Untyped tables take a bare name,
// typed tables an object with the native definition and base type.
type ColumnSpec struct {
	Name       string                `json:"name" validate:"required"`
	Definition *ColumnTypeDefinition `json:"definition,omitempty"`
	Basetype   string                `json:"basetype,omitempty"`
}

// IsBare reports whether the descriptor only names the column.
func (c ColumnSpec) IsBare() bool {
	return c.Definition == nil && c.Basetype == ""
}

type columnSpecObject ColumnSpec

// UnmarshalJSON accepts either "name" or {"name": ..., "definition": ..., "basetype": ...}.
func (c *ColumnSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*c = ColumnSpec{Name: name}
		return nil
	}
	var obj columnSpecObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = ColumnSpec(obj)
	return nil
}

// MarshalJSON writes a bare descriptor back as a plain string.
func (c ColumnSpec) MarshalJSON() ([]byte, error) {
	if c.IsBare() {
		return json.Marshal(c.Name)
	}
	return json.Marshal(columnSpecObject(c))
}

// TrimColumnNames trims whitespace from every name, keeping order.
func TrimColumnNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.TrimSpace(n)
	}
	return out
}

// KeyValue is a metadata entry stripped of its provider.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ProviderMetadata is all column metadata of one provider for a single table.
type ProviderMetadata struct {
	Provider string
	Columns  map[string][]KeyValue
}

// GroupColumnMetadata groups entries by provider, dropping reserved providers.
// Groups are ordered by provider name and entries keep their input order.
func GroupColumnMetadata(cm ColumnMetadata) []ProviderMetadata {
	byProvider := make(map[string]map[string][]KeyValue)
	columns := make([]string, 0, len(cm))
	for column := range cm {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		for _, entry := range cm[column] {
			if IsReservedProvider(entry.Provider) {
				continue
			}
			if byProvider[entry.Provider] == nil {
				byProvider[entry.Provider] = make(map[string][]KeyValue)
			}
			byProvider[entry.Provider][column] = append(byProvider[entry.Provider][column], KeyValue{
				Key:   entry.Key,
				Value: entry.Value,
			})
		}
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	groups := make([]ProviderMetadata, 0, len(providers))
	for _, p := range providers {
		groups = append(groups, ProviderMetadata{Provider: p, Columns: byProvider[p]})
	}
	return groups
}
