// Реестр функций, доступных модели.
//
// Реестр собирается в две фазы: Builder принимает определения и связи
// между ними по имени, Build проверяет всё разом и возвращает
// неизменяемый Registry. После Build реестр безопасен для чтения из
// любого числа горутин без блокировок.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Builder накапливает определения функций до вызова Build.
type Builder struct {
	defs  []FunctionDefinition
	index map[string]int
	errs  []error
}

// NewBuilder создаёт пустой Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add регистрирует функцию. Ошибки копятся и возвращаются из Build.
func (b *Builder) Add(def FunctionDefinition) *Builder {
	if err := validateToolDefinition(def); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if _, dup := b.index[def.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("tool '%s': already registered", def.Name))
		return b
	}
	if def.Capability == 0 {
		def.Capability = CapabilityDefault
	}
	if def.Budget <= 0 {
		def.Budget = 1
	}
	if def.Cache.SimilarityThreshold == 0 && def.Cache.TTL == 0 {
		enabled := def.Cache.Enabled
		def.Cache = DefaultCachePolicy()
		def.Cache.Enabled = enabled
	}
	b.index[def.Name] = len(b.defs)
	b.defs = append(b.defs, def)
	return b
}

// DependsOn добавляет функции name зависимости. Имена разрешаются в Build,
// поэтому порядок Add не важен.
func (b *Builder) DependsOn(name string, deps ...string) *Builder {
	i, ok := b.index[name]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("tool '%s': not registered", name))
		return b
	}
	b.defs[i].Dependencies = append(b.defs[i].Dependencies, deps...)
	return b
}

// Build проверяет зависимости и возвращает неизменяемый реестр.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	r := &Registry{
		funcs: make(map[string]*Function, len(b.defs)),
		order: make([]*Function, 0, len(b.defs)),
	}
	for _, def := range b.defs {
		def.Dependencies = append([]string(nil), def.Dependencies...)
		f := &Function{def: def}
		r.funcs[def.Name] = f
		r.order = append(r.order, f)
	}
	for _, f := range r.order {
		for _, dep := range f.def.Dependencies {
			d, ok := r.funcs[dep]
			if !ok {
				return nil, fmt.Errorf("tool '%s': unknown dependency '%s'", f.Name(), dep)
			}
			if d == f {
				return nil, fmt.Errorf("tool '%s': depends on itself", f.Name())
			}
			f.deps = append(f.deps, d)
		}
	}
	return r, nil
}

// validateToolDefinition проверяет что определение соответствует JSON Schema.
//
// Валидирует:
//   - Name подходит под NamePattern
//   - Handler задан
//   - Parameters является JSON объектом с type == "object"
//   - Parameters.required является массивом строк
//   - SimilarityThreshold в [0,1]
func validateToolDefinition(def FunctionDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !ValidName(def.Name) {
		return fmt.Errorf("tool '%s': name must match %s", def.Name, NamePattern)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool '%s': handler cannot be nil", def.Name)
	}
	if def.Parameters == nil {
		return fmt.Errorf("tool '%s': parameters cannot be nil", def.Name)
	}
	if t := def.Cache.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("tool '%s': similarity threshold %v out of [0,1]", def.Name, t)
	}

	// Сериализуем и парсим обратно: так []string и []any выглядят одинаково
	paramsJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool '%s': failed to marshal parameters: %w", def.Name, err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return fmt.Errorf("tool '%s': parameters must be a JSON object, got: %s", def.Name, string(paramsJSON))
	}

	typeVal, ok := params["type"]
	if !ok {
		return fmt.Errorf("tool '%s': parameters must have 'type' field", def.Name)
	}
	typeStr, ok := typeVal.(string)
	if !ok {
		return fmt.Errorf("tool '%s': parameters.type must be a string, got: %T", def.Name, typeVal)
	}
	if typeStr != "object" {
		return fmt.Errorf("tool '%s': parameters.type must be 'object', got: '%s'", def.Name, typeStr)
	}

	if requiredVal, exists := params["required"]; exists {
		required, ok := requiredVal.([]interface{})
		if !ok {
			return fmt.Errorf("tool '%s': parameters.required must be an array", def.Name)
		}
		for i, item := range required {
			if _, ok := item.(string); !ok {
				return fmt.Errorf("tool '%s': parameters.required[%d] must be a string, got: %T", def.Name, i, item)
			}
		}
	}

	return nil
}

// Registry - неизменяемый набор функций.
type Registry struct {
	funcs map[string]*Function
	order []*Function
}

// Get ищет функцию по имени.
func (r *Registry) Get(name string) (*Function, error) {
	f, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("tool '%s' not found", name)
	}
	return f, nil
}

// Names возвращает отсортированные имена функций.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len возвращает число функций.
func (r *Registry) Len() int {
	return len(r.order)
}

// Visible возвращает функции, которые можно показать модели: маска
// разговора пересекается с маской функции и хотя бы одна зависимость
// уже вызывалась (или зависимостей нет). Порядок - порядок регистрации.
func (r *Registry) Visible(capability Capability, called func(name string) bool) []*Function {
	var out []*Function
	for _, f := range r.order {
		if !capability.Allows(f.Capability()) {
			continue
		}
		if !f.Unlocked(called) {
			continue
		}
		out = append(out, f)
	}
	return out
}
