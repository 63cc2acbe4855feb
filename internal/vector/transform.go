package vector

import (
	"encoding/json"
	"fmt"
)

// XYFunc maps one coordinate pair.
type XYFunc func(x, y float64) (float64, float64, error)

// Transform applies fn to every position of a GeoJSON geometry and returns
// the rewritten geometry. Z and M ordinates are kept.
func Transform(raw json.RawMessage, fn XYFunc) (json.RawMessage, error) {
	var g map[string]any
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	if err := transformGeometry(g, fn); err != nil {
		return nil, err
	}
	out, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return out, nil
}

func transformGeometry(g map[string]any, fn XYFunc) error {
	if members, ok := g["geometries"].([]any); ok {
		for _, m := range members {
			mg, ok := m.(map[string]any)
			if !ok {
				return fmt.Errorf("invalid geometry collection member")
			}
			if err := transformGeometry(mg, fn); err != nil {
				return err
			}
		}
		return nil
	}
	coords, ok := g["coordinates"]
	if !ok {
		return fmt.Errorf("geometry has no coordinates")
	}
	out, err := transformCoords(coords, fn)
	if err != nil {
		return err
	}
	g["coordinates"] = out
	return nil
}

func transformCoords(v any, fn XYFunc) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid coordinate array")
	}
	if len(arr) == 0 {
		return arr, nil
	}
	if _, isPos := arr[0].(float64); isPos {
		if len(arr) < 2 {
			return nil, fmt.Errorf("position needs at least two ordinates")
		}
		y, ok := arr[1].(float64)
		if !ok {
			return nil, fmt.Errorf("invalid ordinate")
		}
		x, y, err := fn(arr[0].(float64), y)
		if err != nil {
			return nil, err
		}
		pos := make([]any, len(arr))
		copy(pos, arr)
		pos[0], pos[1] = x, y
		return pos, nil
	}
	out := make([]any, len(arr))
	for i, child := range arr {
		c, err := transformCoords(child, fn)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
