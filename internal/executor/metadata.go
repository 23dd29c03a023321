package executor

import (
	"context"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

// editColumnsMetadata writes one metadata update per provider per table.
func (b *batch) editColumnsMetadata(ctx context.Context, op domain.EditColumnsMetadata) error {
	for _, table := range op.Tables {
		for _, group := range domain.GroupColumnMetadata(table.ColumnMetadata) {
			upd := toMetadataUpdate(group)
			if err := b.step(table.ID+"@"+group.Provider, func() error {
				return b.exec.client.PostTableMetadataWithColumns(ctx, table.ID, upd)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func toMetadataUpdate(group domain.ProviderMetadata) storageapi.TableMetadataUpdate {
	columns := make(map[string][]storageapi.MetadataKV, len(group.Columns))
	for column, entries := range group.Columns {
		kvs := make([]storageapi.MetadataKV, 0, len(entries))
		for _, e := range entries {
			kvs = append(kvs, storageapi.MetadataKV{Key: e.Key, Value: e.Value})
		}
		columns[column] = kvs
	}
	return storageapi.TableMetadataUpdate{Provider: group.Provider, ColumnsMetadata: columns}
}
