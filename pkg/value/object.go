package value

// Object is an insertion-ordered set of named fields.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Set assigns a field. Re-assigning an existing key keeps its position.
func (o *Object) Set(key string, v Value) *Object {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
	return o
}

// Get returns the field stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Null(), false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes key, preserving the order of the remaining fields.
func (o *Object) Delete(key string) {
	if _, ok := o.fields[key]; !ok {
		return
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a shallow copy of o.
func (o *Object) Clone() *Object {
	cp := &Object{
		keys:   make([]string, len(o.keys)),
		fields: make(map[string]Value, len(o.fields)),
	}
	copy(cp.keys, o.keys)
	for k, v := range o.fields {
		cp.fields[k] = v
	}
	return cp
}
