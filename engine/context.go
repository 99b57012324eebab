package engine

// Context is the persistent session binding table. Names bound at the
// top level of one execution stay visible to later executions until the
// context is reset. Insertion order is preserved for diagnostics.
type Context struct {
	values map[string]any
	order  []string
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Get returns the bound value and whether the name is bound.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Set binds a name, overwriting any previous binding.
func (c *Context) Set(name string, value any) {
	if _, exists := c.values[name]; !exists {
		c.order = append(c.order, name)
	}
	c.values[name] = value
}

// Names returns the bound names in insertion order.
func (c *Context) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Len returns the number of bindings.
func (c *Context) Len() int {
	return len(c.values)
}

// Reset drops every binding.
func (c *Context) Reset() {
	c.values = make(map[string]any)
	c.order = nil
}
