package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FunctionResourceType is the resource type that yields function entities.
const FunctionResourceType = "AWS::Lambda::Function"

// ResourceDeclaration is one entry of a template's Resources section.
type ResourceDeclaration struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties,omitempty"`
}

// StringProperty returns a scalar string property. Intrinsic function
// values (Ref, Fn::Sub, ...) are not resolved and report false.
func (r ResourceDeclaration) StringProperty(name string) (string, bool) {
	v, ok := r.Properties[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// TemplateDocument maps logical resource ids to their declarations.
type TemplateDocument map[string]ResourceDeclaration

var errNoResources = errors.New("template has no Resources section")

// ParseTemplate parses a JSON or YAML template body. YAML short-form
// intrinsics are rewritten to their long form, so `!Ref Foo` becomes
// {"Ref": "Foo"} and `!GetAtt Fn.Arn` becomes {"Fn::GetAtt": ["Fn", "Arn"]}.
func ParseTemplate(body string) (TemplateDocument, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, errors.New("empty template body")
	}

	var raw map[string]any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("parse json template: %w", err)
		}
	} else {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, fmt.Errorf("parse yaml template: %w", err)
		}
		if len(doc.Content) == 0 {
			return nil, errNoResources
		}
		m, ok := nodeValue(doc.Content[0]).(map[string]any)
		if !ok {
			return nil, errors.New("template root is not a mapping")
		}
		raw = m
	}

	resources, ok := raw["Resources"].(map[string]any)
	if !ok {
		return nil, errNoResources
	}

	tpl := make(TemplateDocument, len(resources))
	for logicalID, v := range resources {
		decl, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("resource %q is not a mapping", logicalID)
		}
		typ, _ := decl["Type"].(string)
		props, _ := decl["Properties"].(map[string]any)
		tpl[logicalID] = ResourceDeclaration{Type: typ, Properties: props}
	}
	return tpl, nil
}

// nodeValue converts a YAML node into plain Go values, expanding
// CloudFormation short-form tags.
func nodeValue(n *yaml.Node) any {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			m[n.Content[i].Value] = nodeValue(n.Content[i+1])
		}
		return intrinsic(n, m)
	case yaml.SequenceNode:
		s := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			s = append(s, nodeValue(c))
		}
		return intrinsic(n, s)
	case yaml.ScalarNode:
		if isShortForm(n.Tag) {
			if n.Tag == "!GetAtt" {
				parts := strings.SplitN(n.Value, ".", 2)
				s := make([]any, 0, len(parts))
				for _, p := range parts {
					s = append(s, p)
				}
				return intrinsic(n, s)
			}
			return intrinsic(n, n.Value)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return n.Value
		}
		return v
	}
	return nil
}

func isShortForm(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!")
}

func intrinsic(n *yaml.Node, v any) any {
	if !isShortForm(n.Tag) {
		return v
	}
	name := strings.TrimPrefix(n.Tag, "!")
	switch name {
	case "Ref", "Condition":
	default:
		name = "Fn::" + name
	}
	return map[string]any{name: v}
}
