// Package schema generates tool input schemas from Go types.
//
// A tool's input struct doubles as its published inputSchema:
//
//	type AddInput struct {
//	    A int `json:"a" jsonschema:"required,description=First addend"`
//	    B int `json:"b" jsonschema:"required,description=Second addend"`
//	}
//
//	s, err := schema.Generate(AddInput{})
//
// Tag entries are comma separated, so descriptions cannot contain commas.
// Validate reports every violation at once as ValidationErrors.
package schema
