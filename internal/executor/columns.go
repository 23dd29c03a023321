package executor

import (
	"context"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

// addColumns looks the table up once and adds each column with the
// signature matching the table kind.
func (b *batch) addColumns(ctx context.Context, op domain.AddColumns) error {
	table, err := b.exec.client.GetTable(ctx, op.TableID)
	if err != nil {
		return err
	}

	if table.IsTyped {
		for i, col := range op.Columns {
			if col.Definition == nil {
				return domain.ErrUser("Action %s: rawResourceJson[%d] (%q) needs a definition because table %s is typed.",
					op.Action(), i, col.Name, op.TableID)
			}
		}
	}

	for _, col := range op.Columns {
		req := storageapi.AddColumnRequest{Name: col.Name}
		if table.IsTyped {
			def := toColumnDefinition(*col.Definition)
			req.Definition = &def
			req.Basetype = col.Basetype
		}
		if err := b.step(op.TableID+"."+col.Name, func() error {
			return b.exec.client.AddTableColumn(ctx, op.TableID, req)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) dropColumns(ctx context.Context, op domain.DropColumns) error {
	opts := storageapi.DropOptions{Force: true}
	for _, col := range op.Columns {
		if err := b.step(op.TableID+"."+col, func() error {
			return b.exec.client.DeleteTableColumn(ctx, op.TableID, col, opts)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) addPrimaryKey(ctx context.Context, op domain.AddPrimaryKey) error {
	columns := domain.TrimColumnNames(op.Columns)
	return b.step(op.TableID, func() error {
		return b.exec.client.CreateTablePrimaryKey(ctx, op.TableID, columns)
	})
}

func (b *batch) dropPrimaryKeys(ctx context.Context, op domain.DropPrimaryKeys) error {
	for _, id := range op.TableIDs {
		if err := b.step(id, func() error {
			return b.exec.client.RemoveTablePrimaryKey(ctx, id)
		}); err != nil {
			return err
		}
	}
	return nil
}
