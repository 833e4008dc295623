package ir

import (
	"sort"
	"strings"
)

// IsPseudo reports whether name is a pseudo parameter such as AWS::Region.
func IsPseudo(name string) bool {
	return strings.HasPrefix(name, "AWS::")
}

// References returns the sorted, de-duplicated logical IDs referenced by v
// through Ref, Fn::GetAtt and Fn::Sub. Pseudo parameters are excluded.
func References(v any) []string {
	seen := make(map[string]bool)
	collectRefs(v, seen)

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v any, seen map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if id, ok := val["Ref"].(string); ok {
				if !IsPseudo(id) {
					seen[id] = true
				}
				return
			}
			if att, ok := val["Fn::GetAtt"]; ok {
				if id := getAttTarget(att); id != "" {
					seen[id] = true
				}
				return
			}
			if sub, ok := val["Fn::Sub"]; ok {
				collectSubRefs(sub, seen)
				return
			}
		}
		for _, item := range val {
			collectRefs(item, seen)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, seen)
		}
	case []map[string]any:
		for _, item := range val {
			collectRefs(item, seen)
		}
	}
}

func getAttTarget(att any) string {
	switch a := att.(type) {
	case []any:
		if len(a) > 0 {
			id, _ := a[0].(string)
			return id
		}
	case []string:
		if len(a) > 0 {
			return a[0]
		}
	case string:
		id, _, _ := strings.Cut(a, ".")
		return id
	}
	return ""
}

func collectSubRefs(sub any, seen map[string]bool) {
	var body string
	switch s := sub.(type) {
	case string:
		body = s
	case []any:
		if len(s) == 0 {
			return
		}
		body, _ = s[0].(string)
		vars := map[string]bool{}
		if len(s) > 1 {
			if m, ok := s[1].(map[string]any); ok {
				for k, v := range m {
					vars[k] = true
					collectRefs(v, seen)
				}
			}
		}
		for _, name := range subVariables(body) {
			if !vars[name] {
				seen[name] = true
			}
		}
		return
	}
	for _, name := range subVariables(body) {
		seen[name] = true
	}
}

// subVariables extracts resource names from ${Name} and ${Name.Attr} placeholders.
// ${!Literal} escapes and pseudo parameters are skipped.
func subVariables(body string) []string {
	var names []string
	for {
		start := strings.Index(body, "${")
		if start < 0 {
			return names
		}
		end := strings.Index(body[start:], "}")
		if end < 0 {
			return names
		}
		inner := body[start+2 : start+end]
		body = body[start+end+1:]
		if inner == "" || strings.HasPrefix(inner, "!") || IsPseudo(inner) {
			continue
		}
		name, _, _ := strings.Cut(inner, ".")
		names = append(names, name)
	}
}
