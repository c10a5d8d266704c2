// reflect.go - Reflection-basierte Parameter-Suche
//
// Dieses Modul findet Parameter und Untermodule ueber `nn`-Struct-Tags.
// Der Tag-Name wird an den Pfad angehaengt; Slices verwenden den Index.
// Ein leerer Name haengt nichts an (z.B. Sequential.Layers).
//
// Hauptkomponenten:
// - parseTag: Parst "name,alt:alternative"
// - walk: Traversiert Strukturen, Pointer, Interfaces und Slices
// - NamedParameters, Parameters, NumParameters
// - To, DeviceOf, SetTraining
package nn

import (
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/clbt/clbt/ml"
)

// Tag repraesentiert einen geparsten nn-Tag
type Tag struct {
	name         string
	alternatives []string
}

// parseTag parst einen nn-Tag-String in eine Tag-Struktur
func parseTag(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	tag.name = parts[0]
	for _, part := range parts[1:] {
		if value, ok := strings.CutPrefix(part, "alt:"); ok {
			tag.alternatives = append(tag.alternatives, value)
		}
	}
	return
}

var paramType = reflect.TypeOf((*Param)(nil))

// visitor wird fuer jeden Parameter (param != nil) und jedes Modul aufgerufen
type visitor func(path []string, tag Tag, param *Param, module any)

// walk traversiert v rekursiv entlang nn-Tags
func walk(v reflect.Value, path []string, tag Tag, visit visitor) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}

		if v.Type() == paramType {
			visit(path, tag, v.Interface().(*Param), nil)
			return
		}

		if v.Kind() == reflect.Pointer && v.CanInterface() {
			visit(path, tag, nil, v.Interface())
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			s, ok := f.Tag.Lookup("nn")
			if !ok || !f.IsExported() || s == "-" {
				continue
			}

			childTag := parseTag(s)
			childPath := path
			if childTag.name != "" {
				childPath = append(slices.Clone(path), childTag.name)
			}
			walk(v.Field(i), childPath, childTag, visit)
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			walk(v.Index(i), append(slices.Clone(path), strconv.Itoa(i)), Tag{}, visit)
		}
	}
}

// NamedParam ist ein Parameter mit vollem Namen
type NamedParam struct {
	Name string

	// Alternatives sind weitere zulaessige Namen beim Laden
	Alternatives []string

	*Param
}

// NamedParameters gibt alle Parameter von m in Deklarationsreihenfolge zurueck
func NamedParameters(m any) []NamedParam {
	var params []NamedParam
	seen := make(map[*Param]bool)
	walk(reflect.ValueOf(m), nil, Tag{}, func(path []string, tag Tag, p *Param, _ any) {
		if p == nil || seen[p] {
			return
		}
		seen[p] = true

		np := NamedParam{Name: strings.Join(path, "."), Param: p}
		if len(path) > 0 {
			prefix := path[:len(path)-1]
			for _, alt := range tag.alternatives {
				np.Alternatives = append(np.Alternatives, strings.Join(append(slices.Clone(prefix), alt), "."))
			}
		}
		params = append(params, np)
	})
	return params
}

// Parameters gibt alle Parameter ohne Namen zurueck
func Parameters(m any) []*Param {
	named := NamedParameters(m)
	params := make([]*Param, len(named))
	for i, np := range named {
		params[i] = np.Param
	}
	return params
}

// NumParameters zaehlt alle Parameterwerte von m
func NumParameters(m any) int {
	var n int
	for _, p := range Parameters(m) {
		n += p.NumElements()
	}
	return n
}

// To verschiebt alle Parameter von m auf device
func To(m any, device ml.Device) {
	for _, p := range Parameters(m) {
		p.Device = device
	}
}

// DeviceOf gibt das Geraet des ersten Parameters zurueck (CPU ohne Parameter)
func DeviceOf(m any) ml.Device {
	for _, p := range Parameters(m) {
		return p.Device
	}
	return ml.CPU
}

type trainer interface {
	SetTraining(bool)
}

// SetTraining schaltet alle Untermodule von m in den Trainings- bzw. Auswertungsmodus
func SetTraining(m any, training bool) {
	walk(reflect.ValueOf(m), nil, Tag{}, func(_ []string, _ Tag, _ *Param, module any) {
		if t, ok := module.(trainer); ok {
			t.SetTraining(training)
		}
	})
}

// Train schaltet m in den Trainingsmodus
func Train(m any) { SetTraining(m, true) }

// Eval schaltet m in den Auswertungsmodus
func Eval(m any) { SetTraining(m, false) }
