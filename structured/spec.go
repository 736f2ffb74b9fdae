package structured

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidArguments reports arguments that parse but do not satisfy the
// tool's declared schema: a required property is missing, a value has the
// wrong type, is below its minimum or is not one of its enum values.
var ErrInvalidArguments = errors.New("invalid arguments")

// Spec pairs a tool declaration derived from T's jsonschema tags with the
// decoder for its arguments. Arguments are validated against the same
// schema the model is shown.
type Spec[T any] struct {
	Info   *schema.ToolInfo
	schema *jsonschema.Schema
}

func NewSpec[T any](name, desc string) (*Spec[T], error) {
	info, err := utils.GoStruct2ToolInfo[T](name, desc)
	if err != nil {
		return nil, fmt.Errorf("convert tool info failed: %w", err)
	}
	sch, err := compileParams(name, info.ParamsOneOf)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &Spec[T]{Info: info, schema: sch}, nil
}

func compileParams(name string, params *schema.ParamsOneOf) (*jsonschema.Schema, error) {
	js, err := params.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	if js == nil {
		return nil, nil
	}
	raw, err := sonic.Marshal(js)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func (s *Spec[T]) Name() string {
	return s.Info.Name
}

// Decode parses raw tool-call arguments and validates them against the
// declared schema. Models sometimes send an empty string for argument-less
// tools; that decodes as {}.
func (s *Spec[T]) Decode(arguments string) (T, error) {
	var out T
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}
	if s.schema != nil {
		inst, err := jsonschema.UnmarshalJSON(strings.NewReader(arguments))
		if err != nil {
			return out, err
		}
		if err := s.schema.Validate(inst); err != nil {
			return out, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.ReplaceAll(err.Error(), "\n", "; "))
		}
	}
	if err := sonic.UnmarshalString(arguments, &out); err != nil {
		return out, err
	}
	return out, nil
}
