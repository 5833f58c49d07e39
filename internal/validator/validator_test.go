package validator

import "testing"

type params struct {
	Name  string `json:"name" schema:"required"`
	Mode  string `json:"mode" schema:"enum:fast|thorough"`
	Count int    `json:"count" schema:"min:1,max:10"`
	Note  string `json:"note" schema:"max:5"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      params
		wantErr bool
	}{
		{"valid", params{Name: "x", Mode: "fast", Count: 5}, false},
		{"missing required", params{Mode: "fast", Count: 5}, true},
		{"bad enum", params{Name: "x", Mode: "slow", Count: 5}, true},
		{"below min", params{Name: "x", Mode: "fast", Count: -1}, true},
		{"above max", params{Name: "x", Mode: "fast", Count: 11}, true},
		{"string over max length", params{Name: "x", Note: "abcdef"}, true},
		{"optional zero values skipped", params{Name: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsNonStruct(t *testing.T) {
	if err := Validate("not a struct"); err == nil {
		t.Error("expected error for non-struct")
	}
}
