package domain

import "fmt"

// Action is the kind of change a configuration row replays.
type Action string

// Supported actions.
const (
	ActionAddBucket           Action = "ADD_BUCKET"
	ActionAddTable            Action = "ADD_TABLE"
	ActionAddColumn           Action = "ADD_COLUMN"
	ActionAddPrimaryKey       Action = "ADD_PRIMARY_KEY"
	ActionDropBucket          Action = "DROP_BUCKET"
	ActionDropTable           Action = "DROP_TABLE"
	ActionDropColumn          Action = "DROP_COLUMN"
	ActionDropPrimaryKey      Action = "DROP_PRIMARY_KEY"
	ActionEditColumnsMetadata Action = "EDIT_COLUMNS_METADATA"
)

// AllActions lists every supported action in declaration order.
var AllActions = []Action{
	ActionAddBucket,
	ActionAddTable,
	ActionAddColumn,
	ActionAddPrimaryKey,
	ActionDropBucket,
	ActionDropTable,
	ActionDropColumn,
	ActionDropPrimaryKey,
	ActionEditColumnsMetadata,
}

// ParseAction converts a configured action name into an Action.
func ParseAction(s string) (Action, error) {
	for _, a := range AllActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
}

// RequiresResourceID reports whether the action addresses a single table
// given by the row's resourceId.
func (a Action) RequiresResourceID() bool {
	switch a {
	case ActionAddColumn, ActionAddPrimaryKey, ActionDropColumn:
		return true
	default:
		return false
	}
}

// ReadsRawResource reports whether the action's descriptors come from
// rawResourceJson rather than the plain values list.
func (a Action) ReadsRawResource() bool {
	switch a {
	case ActionAddBucket, ActionAddTable, ActionAddColumn, ActionEditColumnsMetadata:
		return true
	default:
		return false
	}
}
