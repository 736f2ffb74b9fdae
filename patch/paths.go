package patch

import (
	"reflect"
	"strings"
)

// AllJSONPointerPaths lists every pointer reachable in T, with "-" standing
// for any slice index and "*" for any map key.
func AllJSONPointerPaths[T any]() []string {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return []string{}
	}
	paths := make([]string, 0)
	collectPaths(typ, "", &paths, make(map[reflect.Type]bool))
	return paths
}

func collectPaths(typ reflect.Type, prefix string, paths *[]string, visited map[reflect.Type]bool) {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if visited[typ] {
		return
	}
	switch typ.Kind() {
	case reflect.Struct:
		visited[typ] = true
		defer delete(visited, typ)
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			name := jsonFieldName(field)
			if name == "" || name == "-" {
				continue
			}
			path := prefix + "/" + name
			*paths = append(*paths, path)
			collectPaths(field.Type, path, paths, visited)
		}
	case reflect.Slice, reflect.Array:
		path := prefix + "/-"
		*paths = append(*paths, path)
		collectPaths(typ.Elem(), path, paths, visited)
	case reflect.Map:
		path := prefix + "/*"
		*paths = append(*paths, path)
		collectPaths(typ.Elem(), path, paths, visited)
	}
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return field.Name
}

// DocumentPaths is the allowed path set for form edits.
func DocumentPaths() map[string]bool {
	allowed := make(map[string]bool)
	for _, p := range AllJSONPointerPaths[Document]() {
		allowed[p] = true
	}
	return allowed
}
