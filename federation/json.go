package federation

import "encoding/json"

// DeserializeOneOrMany decodes a JSON value that is either a bare T or an
// array of T into a []T. Used for fields like "@context" and "to" that
// ActivityPub allows to be either form.
func DeserializeOneOrMany[T any](data []byte) ([]T, error) {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// DeserializeSkipError decodes a JSON array of T, dropping any element that
// individually fails to decode instead of failing the whole array. Used so
// one malformed attachment or tag does not reject an entire incoming
// object.
func DeserializeSkipError[T any](data []byte) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// DeserializeLast decodes a JSON value that may be a bare T, an array of T,
// or absent/null, returning the last element (or the bare value) as a
// pointer, or nil if nothing was present.
func DeserializeLast[T any](data []byte) (*T, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		if len(many) == 0 {
			return nil, nil
		}
		return &many[len(many)-1], nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return &one, nil
}

// Either decodes into whichever of L or R the JSON payload matches, trying
// L first, and marshals whichever variant is populated. It covers JSON
// only: it does not implement Object or Actor.
type Either[L any, R any] struct {
	Left  *L
	Right *R
}

func (e *Either[L, R]) UnmarshalJSON(data []byte) error {
	var left L
	if err := json.Unmarshal(data, &left); err == nil {
		e.Left = &left
		return nil
	}
	var right R
	if err := json.Unmarshal(data, &right); err != nil {
		return err
	}
	e.Right = &right
	return nil
}

func (e Either[L, R]) MarshalJSON() ([]byte, error) {
	if e.Left != nil {
		return json.Marshal(e.Left)
	}
	return json.Marshal(e.Right)
}
