// Copyright 2024-2026 Aiku AI

package manager

// StoreQuery flattens fields into the dotted "<namespace>.<field>" filter
// understood by store.Collection.Query. Values are passed through as-is.
func StoreQuery(namespace string, fields map[string]any) map[string]any {
	query := make(map[string]any, len(fields))
	for field, value := range fields {
		query[namespace+"."+field] = value
	}
	return query
}
