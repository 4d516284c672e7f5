package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/ferry/internal/execctx"
	"github.com/zjrosen/ferry/internal/log"
)

// SaveContext stores cc as contexts.<name> in the config file, replacing an
// existing entry. Comments and formatting elsewhere in the file survive.
func SaveContext(configPath, name string, cc ContextConfig) error {
	if name == "" || name == execctx.DefaultName {
		return fmt.Errorf("%q is not a valid context name", name)
	}
	if err := ValidateContext("contexts."+name, cc); err != nil {
		return err
	}

	var value yaml.Node
	if err := value.Encode(cc); err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	return updateConfig(configPath, func(root *yaml.Node) {
		contexts := mappingValue(root, "contexts")
		setMappingValue(contexts, name, &value)
	})
}

// DeleteContext removes contexts.<name> from the config file. Deleting an
// unknown context is a no-op.
func DeleteContext(configPath, name string) error {
	return updateConfig(configPath, func(root *yaml.Node) {
		contexts := mappingValue(root, "contexts")
		for i := 0; i < len(contexts.Content)-1; i += 2 {
			if contexts.Content[i].Value == name {
				contexts.Content = append(contexts.Content[:i], contexts.Content[i+2:]...)
				return
			}
		}
	})
}

// updateConfig parses the config file into a yaml.Node, lets fn edit the
// root mapping and writes the result back atomically.
func updateConfig(configPath string, fn func(root *yaml.Node)) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // G304: user config path
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level is not a mapping")
	}
	fn(doc.Content[0])

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := writeAtomic(configPath, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "saved config", "path", configPath)
	return nil
}

// mappingValue returns the mapping stored under key in m, creating it if
// missing or not a mapping.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			if v.Kind != yaml.MappingNode {
				v = &yaml.Node{Kind: yaml.MappingNode}
				m.Content[i+1] = v
			}
			return v
		}
	}
	v := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, v)
	return v
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
}

// writeAtomic writes to a temp file in the same directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".ferry.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
