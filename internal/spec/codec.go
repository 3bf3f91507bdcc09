package spec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// The codec works at the yaml.Node level rather than struct tags so
// that (a) task order survives round trips, (b) unknown fields written
// by newer versions are preserved verbatim, and (c) the emitted key
// order is fixed, keeping diffs line-stable.

// Unmarshal parses a spec document.
func Unmarshal(data []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformedError("parsing spec: %v", err)
	}
	s := NewSpec("", "")
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return s, nil // empty file: valid, no tasks
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, malformedError("spec root must be a mapping, got %s", kindName(root.Kind))
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "project":
			if err := decodeProject(val, &s.Project); err != nil {
				return nil, err
			}
		case "tasks":
			if err := decodeTasks(val, s); err != nil {
				return nil, err
			}
		default:
			s.extra = append(s.extra, extraField{key: key, value: val})
		}
	}
	return s, nil
}

// Marshal serializes the spec with a fixed key order, two-space
// indentation, and flow-style string lists.
func Marshal(s *Spec) ([]byte, error) {
	root := newMapping()
	appendPair(root, "project", encodeProject(&s.Project))

	tasksNode := newMapping()
	for _, t := range s.tasks {
		appendPair(tasksNode, t.ID, encodeTask(t))
	}
	appendPair(root, "tasks", tasksNode)
	for _, ef := range s.extra {
		root.Content = append(root.Content, ef.key, ef.value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding spec: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding spec: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeProject(node *yaml.Node, p *Project) error {
	if node.Kind != yaml.MappingNode {
		return malformedError("project must be a mapping, got %s", kindName(node.Kind))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			if err := val.Decode(&p.Name); err != nil {
				return malformedError("project.name: %v", err)
			}
		case "default_branch":
			if err := val.Decode(&p.DefaultBranch); err != nil {
				return malformedError("project.default_branch: %v", err)
			}
		default:
			p.extra = append(p.extra, extraField{key: key, value: val})
		}
	}
	return nil
}

func decodeTasks(node *yaml.Node, s *Spec) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil // `tasks:` with no entries
	}
	if node.Kind != yaml.MappingNode {
		return malformedError("tasks must be a mapping of id to task, got %s", kindName(node.Kind))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		t, err := decodeTask(key.Value, val)
		if err != nil {
			return err
		}
		if err := s.Add(t); err != nil {
			return err
		}
	}
	return nil
}

func decodeTask(id string, node *yaml.Node) (*Task, error) {
	if node.Kind != yaml.MappingNode {
		return nil, malformedError("task %s must be a mapping, got %s", id, kindName(node.Kind))
	}
	t := &Task{ID: id, Priority: DefaultPriority}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "id":
			var bodyID string
			if err = val.Decode(&bodyID); err == nil && bodyID != "" && bodyID != id {
				return nil, malformedError("task %s: body id %q does not match key", id, bodyID)
			}
		case "title":
			err = val.Decode(&t.Title)
		case "description":
			err = val.Decode(&t.Description)
		case "acceptance_criteria":
			err = val.Decode(&t.AcceptanceCriteria)
		case "status":
			var raw string
			if err = val.Decode(&raw); err == nil {
				t.Status = Status(raw)
			}
		case "priority":
			err = val.Decode(&t.Priority)
		case "labels":
			err = val.Decode(&t.Labels)
		case "depends_on":
			err = val.Decode(&t.DependsOn)
		case "locks":
			err = val.Decode(&t.Locks)
		case "created_at":
			err = val.Decode(&t.CreatedAt)
		case "updated_at":
			err = val.Decode(&t.UpdatedAt)
		case "prd":
			t.PRD, err = decodePRD(id, val)
		default:
			t.extra = append(t.extra, extraField{key: key, value: val})
		}
		if err != nil {
			return nil, malformedError("task %s, field %s: %v", id, key.Value, err)
		}
	}
	return t, nil
}

func decodePRD(taskID string, node *yaml.Node) (*PRD, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("prd must be a mapping")
	}
	prd := &PRD{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "source":
			err = val.Decode(&prd.Source)
		case "refs":
			err = val.Decode(&prd.Refs)
			if err == nil {
				for _, ref := range prd.Refs {
					if len(ref.Lines) != 0 && len(ref.Lines) != 2 {
						err = fmt.Errorf("ref %q: lines must be [start, end]", ref.Anchor)
						break
					}
				}
			}
		case "excerpt":
			err = val.Decode(&prd.Excerpt)
		case "hash":
			err = val.Decode(&prd.Hash)
		default:
			prd.extra = append(prd.extra, extraField{key: key, value: val})
		}
		if err != nil {
			return nil, fmt.Errorf("prd.%s: %v", key.Value, err)
		}
	}
	return prd, nil
}

func encodeProject(p *Project) *yaml.Node {
	m := newMapping()
	appendPair(m, "name", textNode(p.Name))
	appendPair(m, "default_branch", textNode(p.DefaultBranch))
	for _, ef := range p.extra {
		m.Content = append(m.Content, ef.key, ef.value)
	}
	return m
}

func encodeTask(t *Task) *yaml.Node {
	m := newMapping()
	appendPair(m, "id", textNode(t.ID))
	appendPair(m, "title", textNode(t.Title))
	if t.Description != "" {
		appendPair(m, "description", textNode(t.Description))
	}
	if t.AcceptanceCriteria != "" {
		appendPair(m, "acceptance_criteria", textNode(t.AcceptanceCriteria))
	}
	appendPair(m, "status", textNode(string(t.Status)))
	appendPair(m, "priority", intNode(t.Priority))
	if len(t.Labels) > 0 {
		appendPair(m, "labels", flowSeq(t.Labels))
	}
	if len(t.DependsOn) > 0 {
		appendPair(m, "depends_on", flowSeq(t.DependsOn))
	}
	if len(t.Locks) > 0 {
		appendPair(m, "locks", flowSeq(t.Locks))
	}
	if t.CreatedAt != "" {
		appendPair(m, "created_at", textNode(t.CreatedAt))
	}
	if t.UpdatedAt != "" {
		appendPair(m, "updated_at", textNode(t.UpdatedAt))
	}
	if t.PRD != nil {
		appendPair(m, "prd", encodePRD(t.PRD))
	}
	for _, ef := range t.extra {
		m.Content = append(m.Content, ef.key, ef.value)
	}
	return m
}

func encodePRD(p *PRD) *yaml.Node {
	m := newMapping()
	appendPair(m, "source", textNode(p.Source))
	if len(p.Refs) > 0 {
		refs := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, ref := range p.Refs {
			rm := newMapping()
			rm.Style = yaml.FlowStyle
			appendPair(rm, "anchor", textNode(ref.Anchor))
			if len(ref.Lines) == 2 {
				lines := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
				lines.Content = append(lines.Content, intNode(ref.Lines[0]), intNode(ref.Lines[1]))
				appendPair(rm, "lines", lines)
			}
			refs.Content = append(refs.Content, rm)
		}
		appendPair(m, "refs", refs)
	}
	if p.Excerpt != "" {
		appendPair(m, "excerpt", textNode(p.Excerpt))
	}
	if p.Hash != "" {
		appendPair(m, "hash", textNode(p.Hash))
	}
	for _, ef := range p.extra {
		m.Content = append(m.Content, ef.key, ef.value)
	}
	return m
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func appendPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}

func textNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if strings.Contains(s, "\n") {
		n.Style = yaml.LiteralStyle
	}
	return n
}

func intNode(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)}
}

func flowSeq(items []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
	for _, item := range items {
		n.Content = append(n.Content, textNode(item))
	}
	return n
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
