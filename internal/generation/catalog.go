package generation

import "sort"

// Model is a generation model clients can select.
type Model struct {
	ID    string `json:"id"`
	Modes []Mode `json:"modes"`
}

// Catalog is the set of known model ids.
type Catalog struct {
	models map[string]Model
}

// NewCatalog creates a catalog where every model supports every mode.
func NewCatalog(ids []string) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		c.models[id] = Model{
			ID:    id,
			Modes: []Mode{ModeTextToImage, ModeImageToImage, ModeOutpaint},
		}
	}
	return c
}

func (c *Catalog) Known(id string) bool {
	_, ok := c.models[id]
	return ok
}

// List returns the models sorted by id.
func (c *Catalog) List() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
