package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/idc-core/idc/engine/task"
)

// Definition is the set of task definitions submitted for one action. Keys
// keep the order in which they were declared so ties in execution_order
// resolve to declaration order.
type Definition struct {
	keys  []string
	tasks map[string]*task.Definition
}

type definitionJSON struct {
	TasksDefinitions json.RawMessage `json:"tasks_definitions"`
}

func NewDefinition() *Definition {
	return &Definition{tasks: make(map[string]*task.Definition)}
}

// Set adds or replaces a task. New keys are appended to the declaration order.
func (d *Definition) Set(key string, def *task.Definition) {
	if d.tasks == nil {
		d.tasks = make(map[string]*task.Definition)
	}
	if _, ok := d.tasks[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.tasks[key] = def
}

func (d *Definition) Get(key string) (*task.Definition, bool) {
	def, ok := d.tasks[key]
	return def, ok
}

// Keys returns task keys in declaration order.
func (d *Definition) Keys() []string {
	return slices.Clone(d.keys)
}

func (d *Definition) Len() int {
	return len(d.keys)
}

func (d *Definition) Clone() (*Definition, error) {
	out := NewDefinition()
	for _, key := range d.keys {
		def, err := d.tasks[key].Clone()
		if err != nil {
			return nil, err
		}
		out.Set(key, def)
	}
	return out, nil
}

func (d *Definition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"tasks_definitions":{`)
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(d.tasks[key])
		if err != nil {
			return nil, fmt.Errorf("failed to encode task %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Definition{tasks: make(map[string]*task.Definition)}
	if len(raw.TasksDefinitions) == 0 || string(raw.TasksDefinitions) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw.TasksDefinitions))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: tasks_definitions must be an object", task.ErrInvalidDefinition)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var def task.Definition
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("%w: task %s: %w", task.ErrInvalidDefinition, key, err)
		}
		d.Set(key, &def)
	}
	_, err = dec.Token()
	return err
}

func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	*d = Definition{tasks: make(map[string]*task.Definition)}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: action definition must be a mapping", task.ErrInvalidDefinition)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "tasks_definitions" {
			continue
		}
		tasks := node.Content[i+1]
		if tasks.Kind == yaml.ScalarNode && tasks.Tag == "!!null" {
			return nil
		}
		if tasks.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: tasks_definitions must be a mapping", task.ErrInvalidDefinition)
		}
		for j := 0; j+1 < len(tasks.Content); j += 2 {
			key := tasks.Content[j].Value
			var def task.Definition
			if err := tasks.Content[j+1].Decode(&def); err != nil {
				return fmt.Errorf("%w: task %s: %w", task.ErrInvalidDefinition, key, err)
			}
			d.Set(key, &def)
		}
	}
	return nil
}
