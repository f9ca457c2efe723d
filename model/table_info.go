package model

// TableInfo describes one registered database table as derived from the
// entity metadata at discovery time. It carries the ordered column list,
// the bidirectional column↔field name maps used to translate trigger
// payloads into entity-shaped maps, and a constructor for empty entities.
type TableInfo struct {
	// Name is the database table name.
	Name string

	// Schema is the database schema holding the table.
	Schema string

	// Columns is the ordered list of database column names.
	Columns []string

	// ColumnToField maps database column names to entity field names.
	ColumnToField map[string]string

	// FieldToColumn maps entity field names to database column names.
	FieldToColumn map[string]string

	// NewEntity constructs an empty instance of the registered entity type.
	NewEntity func() any
}

// RemapToFields translates a row map keyed by database column names into one
// keyed by entity field names. Columns without a mapping keep their database
// name so no data is silently dropped.
func (t *TableInfo) RemapToFields(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	remapped := make(map[string]any, len(row))
	for col, val := range row {
		if field, ok := t.ColumnToField[col]; ok {
			remapped[field] = val
			continue
		}
		remapped[col] = val
	}
	return remapped
}

// MapFieldsToColumns translates entity field names into database column
// names, preserving order and skipping names with no mapping. Names that
// already are column names pass through unchanged.
func (t *TableInfo) MapFieldsToColumns(fields []string) []string {
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		if col, ok := t.FieldToColumn[f]; ok {
			columns = append(columns, col)
			continue
		}
		if _, ok := t.ColumnToField[f]; ok {
			columns = append(columns, f)
		}
	}
	return columns
}
