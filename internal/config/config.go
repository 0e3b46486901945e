// Package config loads and validates the run configuration (spec.md
// §6), grounded on hdrp/internal/config/settings.go's viper-based Load
// (here retargeted at the header/payload/operators schema instead of a
// service-address schema) and governor/runtime/controller.py's
// _load_configuration source-kind sniffing (path vs. raw JSON string
// vs. in-memory map).
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Header is the run-level metadata block (spec.md §6).
type Header struct {
	Name                  string         `mapstructure:"name" json:"name"`
	Description           string         `mapstructure:"description" json:"description"`
	EnableMultiprocessing bool           `mapstructure:"enable_multiprocessing" json:"enable_multiprocessing"`
	SharedData            map[string]any `mapstructure:"shared_data" json:"shared_data"`
}

// OperatorConfig is the validated per-operator record (spec.md §3).
// Unknown fields in the source document are rejected at decode time;
// there is no catch-all field for them. Accepted fields the core does
// not interpret (name, module_path, class_name, class_params, label)
// are carried through unchanged to the loader and to log/audit records.
type OperatorConfig struct {
	ID                    string         `mapstructure:"id" json:"id"`
	Name                  string         `mapstructure:"name" json:"name"`
	Label                 string         `mapstructure:"label" json:"label"`
	ModulePath            string         `mapstructure:"module_path" json:"module_path"`
	ClassName             string         `mapstructure:"class_name" json:"class_name"`
	ClassParams           map[string]any `mapstructure:"class_params" json:"class_params"`
	DedicatedInputParams  map[string]any `mapstructure:"dedicated_input_params" json:"dedicated_input_params"`
	SharedInputParams     any            `mapstructure:"shared_input_params" json:"shared_input_params"`
	SharedInputInitOnly   bool           `mapstructure:"shared_input_init_only" json:"shared_input_init_only"`
	SaveOutput            bool           `mapstructure:"save_output" json:"save_output"`
	SharedOutputName      string         `mapstructure:"shared_output_name" json:"shared_output_name"`
	RunAfter              any            `mapstructure:"run_after" json:"run_after"`
	Repeat                int            `mapstructure:"repeat" json:"repeat"`
	ReinitializeInRepeats *bool          `mapstructure:"reinitialize_in_repeats" json:"reinitialize_in_repeats"`
}

// Payload is the operators block (spec.md §6). Variations is accepted
// and preserved but is explicitly out of scope for the core.
type Payload struct {
	Operators  []OperatorConfig `mapstructure:"operators" json:"operators"`
	Variations map[string]any  `mapstructure:"variations" json:"variations"`
}

// Root is the full validated configuration record the loader yields.
type Root struct {
	Header  Header  `mapstructure:"header" json:"header"`
	Payload Payload `mapstructure:"payload" json:"payload"`
}

// ConfigError is the ConfigInvalid kind named in spec.md §7.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return "config: " + e.msg }

func invalid(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Load accepts any of the three source kinds spec.md §6 names: a
// string ending in .yaml/.json is treated as a path; any other string
// is treated as a raw JSON document; a map is decoded directly.
func Load(source any) (*Root, error) {
	switch v := source.(type) {
	case string:
		return loadString(v)
	case map[string]any:
		return decodeMap(v)
	case *Root:
		return v, nil
	default:
		return nil, invalid("unsupported config source type %T", source)
	}
}

func loadString(s string) (*Root, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json") {
		return loadPath(s)
	}
	return loadJSONString(s)
}

func loadPath(path string) (*Root, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, invalid("reading config file %q: %v", path, err)
	}

	var raw map[string]any
	if err := v.Unmarshal(&raw); err != nil {
		return nil, invalid("unmarshaling config file %q: %v", path, err)
	}
	return decodeMap(raw)
}

func loadJSONString(s string) (*Root, error) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid("parsing JSON config: %v", err)
	}
	return decodeMap(raw)
}

func decodeMap(raw map[string]any) (*Root, error) {
	if err := rejectUnknownKeys(raw, rootKeys); err != nil {
		return nil, err
	}

	var root Root
	if headerRaw, ok := raw["header"].(map[string]any); ok {
		if err := rejectUnknownKeys(headerRaw, headerKeys); err != nil {
			return nil, err
		}
		root.Header = decodeHeader(headerRaw)
	}
	root.Header.EnableMultiprocessing = true
	if headerRaw, ok := raw["header"].(map[string]any); ok {
		if v, ok := headerRaw["enable_multiprocessing"]; ok {
			b, _ := v.(bool)
			root.Header.EnableMultiprocessing = b
		}
	}

	payloadRaw, ok := raw["payload"].(map[string]any)
	if !ok {
		return nil, invalid("missing required payload block")
	}
	if err := rejectUnknownKeys(payloadRaw, payloadKeys); err != nil {
		return nil, err
	}

	opsRaw, ok := payloadRaw["operators"].([]any)
	if !ok || len(opsRaw) == 0 {
		return nil, invalid("payload.operators must be a non-empty list")
	}

	seenIDs := make(map[string]bool, len(opsRaw))
	ops := make([]OperatorConfig, 0, len(opsRaw))
	for i, opAny := range opsRaw {
		opRaw, ok := opAny.(map[string]any)
		if !ok {
			return nil, invalid("payload.operators[%d] must be an object", i)
		}
		if err := rejectUnknownKeys(opRaw, operatorKeys); err != nil {
			return nil, err
		}
		op, err := decodeOperator(opRaw, i)
		if err != nil {
			return nil, err
		}
		if seenIDs[op.ID] {
			return nil, invalid("duplicate operator id %q", op.ID)
		}
		seenIDs[op.ID] = true
		ops = append(ops, op)
	}
	root.Payload = Payload{Operators: ops}
	if variations, ok := payloadRaw["variations"].(map[string]any); ok {
		root.Payload.Variations = variations
	}

	return &root, nil
}

var rootKeys = map[string]bool{"header": true, "payload": true}
var headerKeys = map[string]bool{
	"name": true, "description": true, "enable_multiprocessing": true, "shared_data": true,
}
var payloadKeys = map[string]bool{"operators": true, "variations": true}
var operatorKeys = map[string]bool{
	"id": true, "name": true, "label": true, "module_path": true, "class_name": true, "class_params": true,
	"dedicated_input_params": true, "shared_input_params": true, "shared_input_init_only": true,
	"save_output": true, "shared_output_name": true, "run_after": true, "repeat": true,
	"reinitialize_in_repeats": true,
}

func rejectUnknownKeys(raw map[string]any, allowed map[string]bool) error {
	for k := range raw {
		if !allowed[k] {
			return invalid("unknown field %q", k)
		}
	}
	return nil
}

func decodeHeader(raw map[string]any) Header {
	h := Header{EnableMultiprocessing: true}
	if v, ok := raw["name"].(string); ok {
		h.Name = v
	}
	if v, ok := raw["description"].(string); ok {
		h.Description = v
	}
	if v, ok := raw["shared_data"].(map[string]any); ok {
		h.SharedData = v
	}
	return h
}

func decodeOperator(raw map[string]any, index int) (OperatorConfig, error) {
	var op OperatorConfig
	op.Repeat = 1
	op.Reinit()

	id, _ := raw["id"].(string)
	if id == "" {
		id = fmt.Sprintf("operator-%d", index)
	}
	op.ID = id

	op.Name, _ = raw["name"].(string)
	op.Label, _ = raw["label"].(string)
	op.ModulePath, _ = raw["module_path"].(string)
	op.ClassName, _ = raw["class_name"].(string)
	if v, ok := raw["class_params"].(map[string]any); ok {
		op.ClassParams = v
	}
	if v, ok := raw["dedicated_input_params"].(map[string]any); ok {
		op.DedicatedInputParams = v
	}
	op.SharedInputParams = raw["shared_input_params"]
	if v, ok := raw["shared_input_init_only"].(bool); ok {
		op.SharedInputInitOnly = v
	}
	if v, ok := raw["save_output"].(bool); ok {
		op.SaveOutput = v
	}
	op.SharedOutputName, _ = raw["shared_output_name"].(string)
	op.RunAfter = raw["run_after"]
	if v, ok := raw["repeat"].(int); ok {
		op.Repeat = v
	} else if v, ok := raw["repeat"].(float64); ok {
		op.Repeat = int(v)
	}
	if v, ok := raw["reinitialize_in_repeats"].(bool); ok {
		op.ReinitializeInRepeats = &v
	}

	return op, nil
}

// Reinit sets the field's default prior to decoding: true, per
// spec.md §3's "default true" for reinitialize_in_repeats.
func (o *OperatorConfig) Reinit() {
	t := true
	o.ReinitializeInRepeats = &t
}

// ReinitInRepeats reports the effective reinitialize_in_repeats value,
// defaulting to true when unset.
func (o *OperatorConfig) ReinitInRepeats() bool {
	if o.ReinitializeInRepeats == nil {
		return true
	}
	return *o.ReinitializeInRepeats
}

// RunAfterIDs normalizes RunAfter (absent, a single string, or a list
// of strings) into a string slice.
func (o *OperatorConfig) RunAfterIDs() ([]string, error) {
	switch v := o.RunAfter.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalid("operator %q: run_after entries must be strings", o.ID)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalid("operator %q: run_after must be a string or list of strings", o.ID)
	}
}
