package types

// JSONMap holds loosely structured metadata serialized as jsonb.
type JSONMap map[string]any
