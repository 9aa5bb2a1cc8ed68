package parsers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// ParseXML parses an XML payload where repeated elements under the root are
// the records. Metadata siblings are tolerated: the most frequent child
// element name is taken as the record element. Record fields come from
// attributes and child elements; an element wins over an attribute of the
// same name. Nested structures are kept as JSON-encoded text.
func ParseXML(payload []byte) (*Table, error) {
	var root xmlNode
	if err := xml.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("failed to parse xml: %w", err)
	}
	if len(root.Children) == 0 {
		return nil, errors.New("no rows found in file")
	}

	recordName := dominantChildName(root.Children)

	var columns []string
	seen := make(map[string]bool)
	addColumn := func(name string) {
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}

	var rows []Row
	for _, child := range root.Children {
		if child.XMLName.Local != recordName {
			continue
		}

		values := make(map[string]any)
		for _, attr := range child.Attrs {
			addColumn(attr.Name.Local)
			values[attr.Name.Local] = attr.Value
		}
		for _, field := range child.Children {
			addColumn(field.XMLName.Local)
			values[field.XMLName.Local] = fieldValue(field)
		}
		if len(values) == 0 {
			if content := strings.TrimSpace(child.Content); content != "" {
				addColumn(recordName)
				values[recordName] = content
			}
		}

		rows = append(rows, Row{Number: len(rows) + 1, Values: values})
	}

	if len(rows) == 0 {
		return nil, errors.New("no rows found in file")
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

// dominantChildName returns the most frequent element name, first
// encountered winning ties.
func dominantChildName(children []xmlNode) string {
	counts := make(map[string]int)
	var order []string
	for _, child := range children {
		name := child.XMLName.Local
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}

	best := ""
	for _, name := range order {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}

func fieldValue(node xmlNode) any {
	if len(node.Children) == 0 {
		return strings.TrimSpace(node.Content)
	}
	return flattenValue(nodeMap(node))
}

// nodeMap converts a nested element to a generic map. Attributes carry an
// "@" prefix; repeated child names collapse to arrays.
func nodeMap(node xmlNode) map[string]any {
	result := make(map[string]any)

	for _, attr := range node.Attrs {
		result["@"+attr.Name.Local] = attr.Value
	}

	groups := make(map[string][]any)
	var order []string
	for _, child := range node.Children {
		name := child.XMLName.Local
		if len(groups[name]) == 0 {
			order = append(order, name)
		}

		var value any
		if len(child.Children) == 0 {
			value = strings.TrimSpace(child.Content)
		} else {
			value = nodeMap(child)
		}
		groups[name] = append(groups[name], value)
	}

	for _, name := range order {
		values := groups[name]
		if len(values) == 1 {
			result[name] = values[0]
		} else {
			result[name] = values
		}
	}

	return result
}
