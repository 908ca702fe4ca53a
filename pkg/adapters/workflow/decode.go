package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/parley/internal/dto"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// mapKeys are fields that must decode into objects; anything else in them is discarded.
var mapKeys = []string{"meta", "metadata"}

// Decode parses a backend reply. The body may be a single descriptor, an array of
// descriptors or empty. Bare strings are treated as text descriptors.
// Decoding is permissive: mistyped fields are dropped, never fatal.
func Decode(body []byte) ([]domain.Descriptor, []error) {
	if len(body) == 0 {
		return nil, nil
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		// Plain-text replies are still a message.
		return []domain.Descriptor{{Content: string(body), Metadata: map[string]any{}}}, []error{err}
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case nil:
		return nil, nil
	default:
		items = []any{v}
	}

	out := make([]domain.Descriptor, 0, len(items))
	var errs []error
	for i, item := range items {
		d, err := decodeItem(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("descriptor %d: %w", i, err))
		}
		out = append(out, d)
	}
	return out, errs
}

func decodeItem(item any) (domain.Descriptor, error) {
	switch v := item.(type) {
	case string:
		return domain.Descriptor{Type: domain.DescriptorText, Content: v, Metadata: map[string]any{}}, nil
	case map[string]any:
		for _, k := range mapKeys {
			if _, ok := v[k].(map[string]any); !ok {
				delete(v, k)
			}
		}

		var wire dto.Descriptor
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &wire,
		})
		if err != nil {
			return domain.Descriptor{Metadata: map[string]any{}}, err
		}
		// On error the successfully decoded fields are kept.
		err = dec.Decode(v)
		return wire.Normalize(), err
	}
	return domain.Descriptor{Metadata: map[string]any{}}, fmt.Errorf("unsupported descriptor of type %T", item)
}
