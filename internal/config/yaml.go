package config

import (
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// yamlParser implements koanf.Parser on top of yaml.v3.
type yamlParser struct{}

// YAMLParser returns a koanf parser for YAML documents.
func YAMLParser() koanf.Parser {
	return yamlParser{}
}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(o)
}
