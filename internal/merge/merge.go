// Package merge implements the patch semantics for draft payloads.
package merge

// Deep merges patch into base and returns the result without mutating either
// input. Objects merge recursively; lists in the patch replace the base list
// wholesale; scalars in the patch replace the base value.
func Deep(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, patchValue := range patch {
		baseValue, exists := out[k]
		if exists {
			out[k] = mergeValue(baseValue, patchValue)
		} else {
			out[k] = patchValue
		}
	}
	return out
}

func mergeValue(base, patch any) any {
	if patch == nil {
		return base
	}
	baseObj, baseIsObj := base.(map[string]any)
	patchObj, patchIsObj := patch.(map[string]any)
	if baseIsObj && patchIsObj {
		return Deep(baseObj, patchObj)
	}
	// Lists and scalars replace. No element-wise list merging: array-diff
	// semantics are ambiguous and the journal does not need them.
	return patch
}
