package protocol

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Tables []Table `yaml:"tables"`
}

// LoadTables reads field tables from YAML and checks each layout.
//
//	tables:
//	  - name: bms_limits
//	    fields:
//	      - {name: max_chg_current, start: 0, width: 11, factor: 1, max: 2047, unit: A}
func LoadTables(r io.Reader) ([]Table, error) {
	var file tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("protocol: decode tables: %w", err)
	}
	for _, t := range file.Tables {
		if err := Check(t); err != nil {
			return nil, err
		}
	}
	return file.Tables, nil
}

// MarshalRecord renders rec as YAML keyed by field name in table order.
func MarshalRecord(rec Record) ([]byte, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range rec.values {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: v.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%g", v.Physical)},
		)
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: rec.Table},
		node,
	}}
	return yaml.Marshal(doc)
}
