package schema

import "testing"

type sampleParams struct {
	Query    string  `json:"query" schema:"required" description:"Search query"`
	Limit    int     `json:"limit,omitempty" schema:"min:1,max:100"`
	Score    float64 `json:"score,omitempty"`
	Mode     string  `json:"mode,omitempty" schema:"enum:fast|thorough"`
	internal string
}

func TestGenerateObjectSchema(t *testing.T) {
	g := NewGenerator()

	schema, err := g.Generate(&sampleParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}

	props := schema["properties"].(map[string]interface{})
	if _, ok := props["internal"]; ok {
		t.Error("unexported field leaked into schema")
	}

	query := props["query"].(map[string]interface{})
	if query["type"] != "string" || query["description"] != "Search query" {
		t.Errorf("query schema = %+v", query)
	}

	limit := props["limit"].(map[string]interface{})
	if limit["type"] != "integer" {
		t.Errorf("limit type = %v", limit["type"])
	}
	if limit["minimum"] != float64(1) {
		t.Errorf("limit minimum = %v", limit["minimum"])
	}

	mode := props["mode"].(map[string]interface{})
	enum, ok := mode["enum"].([]string)
	if !ok || len(enum) != 2 || enum[0] != "fast" {
		t.Errorf("mode enum = %v", mode["enum"])
	}

	required := schema["required"].([]string)
	for _, name := range required {
		if name == "query" {
			return
		}
	}
	t.Errorf("required = %v, missing query", required)
}

func TestGenerateRejectsNonStruct(t *testing.T) {
	g := NewGenerator()
	if _, err := g.Generate(42); err == nil {
		t.Error("expected error for non-struct")
	}
}
