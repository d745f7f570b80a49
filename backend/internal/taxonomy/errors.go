package taxonomy

import (
	"errors"
	"fmt"
)

// ErrRegistrySealed is returned by Register once the registry has been sealed
var ErrRegistrySealed = errors.New("taxonomy registry is sealed")

// DuplicateCategoryError means a category id was registered twice
type DuplicateCategoryError struct {
	ID string
}

func (e *DuplicateCategoryError) Error() string {
	return fmt.Sprintf("duplicate category %q", e.ID)
}

// UnknownCategoryError means a category id is not present in the registry
type UnknownCategoryError struct {
	ID string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q", e.ID)
}

// InvalidCategoryError reports a category whose metadata cannot be registered
type InvalidCategoryError struct {
	ID     string
	Reason string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid category %q: %s", e.ID, e.Reason)
}
