package condition

// lookup достает значение по dot-path из вложенных map. Отсутствующий путь дает nil.
func lookup(features map[string]any, path []string, field string) any {
	if features == nil {
		return nil
	}
	if v, ok := walk(features, path); ok {
		return v
	}
	// плоский ключ с точкой ("headers.list-id") тоже допустим
	if len(path) > 1 {
		if v, ok := features[field]; ok {
			return v
		}
	}
	return nil
}

func walk(cur any, path []string) (any, bool) {
	for _, part := range path {
		switch m := cur.(type) {
		case map[string]any:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}
