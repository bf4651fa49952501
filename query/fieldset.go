package query

// FieldSet is the ordered list of fields one statement uses. Its order
// always follows the resource allow-list, never the request.
type FieldSet []string

// Resolve intersects the allow-list with the fields present in rec and, when
// given, with every list in specs. The result keeps allow-list order so the
// same input always produces the same statement.
func Resolve(allow []string, rec Values, specs ...[]string) FieldSet {
	sets := make([]map[string]bool, len(specs))
	for i, spec := range specs {
		sets[i] = make(map[string]bool, len(spec))
		for _, f := range spec {
			sets[i][f] = true
		}
	}

	out := make(FieldSet, 0, len(allow))
outer:
	for _, f := range allow {
		if v, ok := rec.Get(f); !ok || v == nil {
			continue
		}
		for _, s := range sets {
			if !s[f] {
				continue outer
			}
		}
		out = append(out, f)
	}
	return out
}

// Has reports whether name is in the set.
func (f FieldSet) Has(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

// Missing returns the entries of required that are not in the set, in order.
func (f FieldSet) Missing(required []string) []string {
	var out []string
	for _, r := range required {
		if !f.Has(r) {
			out = append(out, r)
		}
	}
	return out
}
