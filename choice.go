package beacon

// Choice is an optional identifier: either nothing is selected, or the entity
// named by ID is.
type Choice struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Valid bool   `json:"valid" yaml:"valid"`
}

// None returns the empty selection.
func None() Choice {
	return Choice{}
}

// Some returns a selection of id.
func Some(id string) Choice {
	return Choice{ID: id, Valid: true}
}

// Get returns the identifier and whether one is selected.
func (c Choice) Get() (string, bool) {
	return c.ID, c.Valid
}

// Equal reports whether c and o select the same entity.
// Two empty selections are equal regardless of any stray ID.
func (c Choice) Equal(o Choice) bool {
	if !c.Valid || !o.Valid {
		return c.Valid == o.Valid
	}
	return c.ID == o.ID
}

// String returns the identifier, or "<none>" when nothing is selected.
func (c Choice) String() string {
	if !c.Valid {
		return "<none>"
	}
	return c.ID
}

// normalize clears ID on an empty selection so stored values compare cleanly.
func (c Choice) normalize() Choice {
	if !c.Valid {
		return Choice{}
	}
	return c
}
