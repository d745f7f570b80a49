package taxonomy

import (
	"fmt"
	"math"
)

// Registry is an append-only, versioned table of moderation categories.
//
// Categories are registered while the process starts and the registry is then
// sealed. After Seal no mutation happens, so Get and All need no locking and
// may be called from any number of goroutines. Register must not run
// concurrently with readers.
type Registry struct {
	version    string
	categories []Category
	index      map[string]int
	sealed     bool
}

// NewRegistry creates an empty registry stamped with version
func NewRegistry(version string) *Registry {
	return &Registry{
		version: version,
		index:   make(map[string]int),
	}
}

// Version returns the taxonomy version that decisions are stamped with
func (r *Registry) Version() string {
	return r.version
}

// Register appends a category. The calibration is validated here so that a
// bad configuration never reaches request time.
func (r *Registry) Register(c Category) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	if c.ID == "" {
		return &InvalidCategoryError{ID: c.ID, Reason: "id is required"}
	}
	if _, exists := r.index[c.ID]; exists {
		return &DuplicateCategoryError{ID: c.ID}
	}
	if !c.Severity.Valid() {
		return &InvalidCategoryError{ID: c.ID, Reason: fmt.Sprintf("invalid severity %d", int(c.Severity))}
	}
	if math.IsNaN(c.DefaultThreshold) || c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return &InvalidCategoryError{ID: c.ID, Reason: "default threshold must be between 0 and 1"}
	}

	cal, err := normalizeCalibration(c.Calibration)
	if err != nil {
		return &InvalidCategoryError{ID: c.ID, Reason: err.Error()}
	}
	c.Calibration = cal

	r.index[c.ID] = len(r.categories)
	r.categories = append(r.categories, c)
	return nil
}

// MustRegister is Register for static tables; it panics on error
func (r *Registry) MustRegister(categories ...Category) *Registry {
	for _, c := range categories {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Seal makes the registry read-only
func (r *Registry) Seal() *Registry {
	r.sealed = true
	return r
}

// Sealed reports whether Seal has been called
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Get returns the category with the given id
func (r *Registry) Get(id string) (Category, error) {
	i, ok := r.index[id]
	if !ok {
		return Category{}, &UnknownCategoryError{ID: id}
	}
	return r.categories[i], nil
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// All returns the categories in registration order
func (r *Registry) All() []Category {
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// IDs returns the category identifiers in registration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.categories))
	for i, c := range r.categories {
		ids[i] = c.ID
	}
	return ids
}

// Len returns the number of registered categories
func (r *Registry) Len() int {
	return len(r.categories)
}

// normalizeCalibration makes the identity default explicit and checks that
// control points describe a monotonically non-decreasing function.
func normalizeCalibration(cal Calibration) (Calibration, error) {
	if len(cal.Points) == 0 {
		if cal.Method != "" && cal.Method != MethodIdentity {
			return cal, fmt.Errorf("calibration method %q requires control points", cal.Method)
		}
		return Calibration{Method: MethodIdentity}, nil
	}

	if cal.Method != "" && cal.Method != MethodPiecewise {
		return cal, fmt.Errorf("calibration method %q does not take control points", cal.Method)
	}
	if len(cal.Points) < 2 {
		return cal, fmt.Errorf("piecewise calibration needs at least 2 control points, got %d", len(cal.Points))
	}

	points := make([]ControlPoint, len(cal.Points))
	copy(points, cal.Points)
	for i, p := range points {
		if math.IsNaN(p.Raw) || math.IsInf(p.Raw, 0) {
			return cal, fmt.Errorf("control point %d: raw value must be finite", i)
		}
		if math.IsNaN(p.Calibrated) || p.Calibrated < 0 || p.Calibrated > 1 {
			return cal, fmt.Errorf("control point %d: calibrated value must be between 0 and 1", i)
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if p.Raw <= prev.Raw {
			return cal, fmt.Errorf("control point %d: raw values must be strictly increasing", i)
		}
		if p.Calibrated < prev.Calibrated {
			return cal, fmt.Errorf("control point %d: calibrated values must be non-decreasing", i)
		}
	}

	return Calibration{Method: MethodPiecewise, Points: points}, nil
}
