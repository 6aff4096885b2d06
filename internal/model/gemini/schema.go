package gemini

import (
	"google.golang.org/genai"

	"github.com/tjfontaine/polyglot-lingua/internal/contract"
)

// SchemaFor converts an output shape into the response schema sent with a
// structured generation request. Property order follows declaration order.
func SchemaFor(s contract.Shape) *genai.Schema {
	return objectSchema("", s.Fields)
}

func objectSchema(description string, fields []contract.Field) *genai.Schema {
	out := &genai.Schema{
		Type:        genai.TypeObject,
		Description: description,
		Properties:  make(map[string]*genai.Schema, len(fields)),
	}
	for _, f := range fields {
		out.Properties[f.Name] = fieldSchema(f)
		out.PropertyOrdering = append(out.PropertyOrdering, f.Name)
		if f.Required {
			out.Required = append(out.Required, f.Name)
		}
	}
	return out
}

func fieldSchema(f contract.Field) *genai.Schema {
	switch f.Type {
	case contract.TypeString:
		return &genai.Schema{Type: genai.TypeString, Description: f.Description}
	case contract.TypeBoolean:
		return &genai.Schema{Type: genai.TypeBoolean, Description: f.Description}
	case contract.TypeNumber:
		return &genai.Schema{Type: genai.TypeNumber, Description: f.Description}
	case contract.TypeInteger:
		return &genai.Schema{Type: genai.TypeInteger, Description: f.Description}
	case contract.TypeEnum:
		return &genai.Schema{
			Type:        genai.TypeString,
			Format:      "enum",
			Description: f.Description,
			Enum:        append([]string(nil), f.Enum...),
		}
	case contract.TypeArray:
		s := &genai.Schema{Type: genai.TypeArray, Description: f.Description}
		if f.Items != nil {
			s.Items = fieldSchema(*f.Items)
		}
		return s
	case contract.TypeObject:
		return objectSchema(f.Description, f.Fields)
	default:
		return &genai.Schema{Type: genai.TypeString, Description: f.Description}
	}
}
