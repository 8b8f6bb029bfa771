package actions

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/bifrost/internal/errors"
)

// Record is one entry of the registry source.
type Record struct {
	Module string `yaml:"module" json:"module" validate:"required"`
	Class  string `yaml:"class" json:"class" validate:"required_unless=Module scanning"`
	Port   int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Parent string `yaml:"parent" json:"parent"`
}

// UnmarshalYAML accepts both the plain keys and the legacy b_-prefixed keys
// (b_module, b_class, b_port, b_parent). A null port or parent reads as empty.
func (r *Record) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Module  string `yaml:"module"`
		Class   string `yaml:"class"`
		Port    *int   `yaml:"port"`
		Parent  string `yaml:"parent"`
		BModule string `yaml:"b_module"`
		BClass  string `yaml:"b_class"`
		BPort   *int   `yaml:"b_port"`
		BParent string `yaml:"b_parent"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*r = Record{
		Module: firstNonEmpty(raw.Module, raw.BModule),
		Class:  firstNonEmpty(raw.Class, raw.BClass),
		Parent: firstNonEmpty(raw.Parent, raw.BParent),
	}
	switch {
	case raw.Port != nil:
		r.Port = *raw.Port
	case raw.BPort != nil:
		r.Port = *raw.BPort
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var recordValidator = validator.New()

// Validate checks the record's own fields.
func (r Record) Validate() error {
	if err := recordValidator.Struct(r); err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid action record %s/%s", r.Module, r.Class), "record", r)
	}
	return nil
}

// LoadRecords reads a registry source. YAML and JSON are both accepted.
// An unreadable or unparsable source is fatal.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeRegistrySource, "cannot read action registry "+path, err)
	}
	return ParseRecords(data)
}

// ParseRecords decodes a registry source document.
func ParseRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, errors.WrapConfigError(errors.CodeRegistrySource, "cannot parse action registry", err)
	}
	return records, nil
}
