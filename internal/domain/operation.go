package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Parameters is the "parameters" block of a configuration row.
type Parameters struct {
	Action          string          `json:"action"`
	ResourceID      string          `json:"resourceId,omitempty"`
	Values          []string        `json:"values"`
	RawResourceJSON json.RawMessage `json:"rawResourceJson,omitempty"`
}

// Operation is one decoded action together with the descriptors it applies to.
// Each implementation carries exactly the shape its action needs.
type Operation interface {
	Action() Action
}

// AddBuckets creates buckets.
type AddBuckets struct {
	Buckets []BucketSpec
}

// AddTables creates typed or untyped tables.
type AddTables struct {
	Tables []TableSpec
}

// AddColumns adds columns to one table.
type AddColumns struct {
	TableID string
	Columns []ColumnSpec
}

// AddPrimaryKey sets the primary key of one table.
type AddPrimaryKey struct {
	TableID string
	Columns []string
}

// DropBuckets removes buckets by id.
type DropBuckets struct {
	BucketIDs []string
}

// DropTables removes tables by id.
type DropTables struct {
	TableIDs []string
}

// DropColumns removes columns from one table.
type DropColumns struct {
	TableID string
	Columns []string
}

// DropPrimaryKeys removes the primary key of each table.
type DropPrimaryKeys struct {
	TableIDs []string
}

// EditColumnsMetadata writes column metadata of existing tables.
type EditColumnsMetadata struct {
	Tables []TableMetadataSpec
}

func (AddBuckets) Action() Action          { return ActionAddBucket }
func (AddTables) Action() Action           { return ActionAddTable }
func (AddColumns) Action() Action          { return ActionAddColumn }
func (AddPrimaryKey) Action() Action       { return ActionAddPrimaryKey }
func (DropBuckets) Action() Action         { return ActionDropBucket }
func (DropTables) Action() Action          { return ActionDropTable }
func (DropColumns) Action() Action         { return ActionDropColumn }
func (DropPrimaryKeys) Action() Action     { return ActionDropPrimaryKey }
func (EditColumnsMetadata) Action() Action { return ActionEditColumnsMetadata }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode turns configuration parameters into an Operation. Missing identifiers
// and malformed descriptors are reported as UserError before any API call;
// the first bad descriptor aborts decoding and is named by its index.
func Decode(p Parameters) (Operation, error) {
	action, err := ParseAction(p.Action)
	if err != nil {
		return nil, err
	}
	if action.RequiresResourceID() && strings.TrimSpace(p.ResourceID) == "" {
		return nil, ErrUser("Missing resourceId.")
	}

	switch action {
	case ActionAddBucket:
		buckets, err := decodeRaw[BucketSpec](action, p.RawResourceJSON)
		if err != nil {
			return nil, err
		}
		return AddBuckets{Buckets: buckets}, nil

	case ActionAddTable:
		tables, err := decodeRaw[TableSpec](action, p.RawResourceJSON)
		if err != nil {
			return nil, err
		}
		return AddTables{Tables: tables}, nil

	case ActionAddColumn:
		columns, err := decodeRaw[ColumnSpec](action, p.RawResourceJSON)
		if err != nil {
			return nil, err
		}
		return AddColumns{TableID: p.ResourceID, Columns: columns}, nil

	case ActionAddPrimaryKey:
		columns := TrimColumnNames(p.Values)
		if len(columns) == 0 {
			return nil, ErrUser("Action %s requires at least one column in values.", action)
		}
		for i, c := range columns {
			if c == "" {
				return nil, ErrUser("Action %s: values[%d] is an empty column name.", action, i)
			}
		}
		return AddPrimaryKey{TableID: p.ResourceID, Columns: columns}, nil

	case ActionDropBucket:
		return DropBuckets{BucketIDs: p.Values}, nil

	case ActionDropTable:
		return DropTables{TableIDs: p.Values}, nil

	case ActionDropColumn:
		return DropColumns{TableID: p.ResourceID, Columns: p.Values}, nil

	case ActionDropPrimaryKey:
		return DropPrimaryKeys{TableIDs: p.Values}, nil

	case ActionEditColumnsMetadata:
		tables, err := decodeRaw[TableMetadataSpec](action, p.RawResourceJSON)
		if err != nil {
			return nil, err
		}
		return EditColumnsMetadata{Tables: tables}, nil
	}

	return nil, fmt.Errorf("%w %q", ErrUnknownAction, action)
}

// decodeRaw reads rawResourceJson as a list of T and validates every element.
func decodeRaw[T any](action Action, raw json.RawMessage) ([]T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrUser("Action %s requires parameters.rawResourceJson.", action)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, WrapUser(err, "Action %s: rawResourceJson must be a list: %v", action, err)
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, WrapUser(err, "Action %s: rawResourceJson[%d] is malformed: %v", action, i, err)
		}
		if err := validate.Struct(v); err != nil {
			return nil, WrapUser(err, "Action %s: rawResourceJson[%d] is invalid: %s", action, i, describeValidation(err))
		}
		out = append(out, v)
	}
	return out, nil
}

// describeValidation renders validator errors using JSON field paths.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %q (%s)", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %q", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
