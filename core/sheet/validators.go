package sheet

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core"
)

// checkStruct runs the struct tags of v and reports the first failing field.
func (svc *Service) checkStruct(v interface{}, prefix string) error {
	err := svc.validate.Struct(v)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) || len(vErrs) == 0 {
		return core.NewValidationError(err)
	}
	fe := vErrs[0]
	return core.NewValidationError(nil, core.FieldError{Field: prefix + fe.Field(), Error: fe.Translate(svc.translator)})
}

// checkBatch rejects malformed batches before anything is loaded.
// It stops at the first violation.
func (svc *Service) checkBatch(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "items", Error: "at least one item is required"})
	}

	cleaned := make([]Item, 0, len(items))
	seen := make(map[string]int, len(items))
	for i, it := range items {
		if err := svc.checkStruct(it, fmt.Sprintf("items[%d].", i)); err != nil {
			return nil, err
		}
		it.EntityID = core.CleanString(it.EntityID)
		if j, ok := seen[it.EntityID]; ok {
			return nil, itemError(it.EntityID, &core.FieldError{
				Field: "entity_id",
				Error: fmt.Sprintf("duplicated by item %d", j),
			})
		}
		seen[it.EntityID] = i
		cleaned = append(cleaned, it)
	}
	return cleaned, nil
}

// checkItems applies the rules of the sheet's kind to every item.
func checkItems(kind Kind, items []Item) error {
	for _, it := range items {
		if fe := kind.Validate(it.values()); fe != nil {
			return itemError(it.EntityID, fe)
		}
	}
	return nil
}

func itemError(entityID string, fe *core.FieldError) error {
	return core.NewValidationError(
		fmt.Errorf("entity %q: %s: %s", entityID, fe.Field, fe.Error),
		core.FieldError{Field: "items." + entityID + "." + fe.Field, Error: fe.Error},
	)
}
