package tools

// Schema renders the tool's argument contract as a JSON-schema object for
// exposure to the language model. Every argument travels as a string; file
// fields become locators when invoked conversationally.
func (d Definition) Schema() map[string]any {
	properties := map[string]any{}
	var required []string
	for _, f := range d.Fields {
		prop := map[string]any{
			"type":        "string",
			"description": f.Label,
		}
		if len(f.Options) > 0 {
			prop["enum"] = f.Options
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
