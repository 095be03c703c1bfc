// Package upnpxml collects the small XML-DOM helpers shared by the
// description parser and GENA property-set parsing: find children by tag
// (ignoring namespace prefixes), read their text/int/bool content, set a
// child's text, and serialize an element with an XML declaration. Elements
// are serialized with etree's default settings, so empty elements are
// written self-closing.
package upnpxml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Parse reads an XML document from raw bytes and returns its root element.
func Parse(raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("upnpxml: parse: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("upnpxml: parse: empty document")
	}
	return doc.Root(), nil
}

// Serialize renders elem as a standalone XML document with the standard
// UPnP declaration, matching the teacher's server.XML rendering.
func Serialize(elem *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	doc.SetRoot(elem)
	doc.Indent(2)
	return doc.WriteToString()
}

// Child returns the first direct child of elem named tag, ignoring any
// namespace prefix, or nil.
func Child(elem *etree.Element, tag string) *etree.Element {
	if elem == nil {
		return nil
	}
	for _, c := range elem.ChildElements() {
		if localName(c.Tag) == tag {
			return c
		}
	}
	return nil
}

// Children returns every direct child of elem named tag, ignoring any
// namespace prefix.
func Children(elem *etree.Element, tag string) []*etree.Element {
	if elem == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range elem.ChildElements() {
		if localName(c.Tag) == tag {
			out = append(out, c)
		}
	}
	return out
}

// ChildText returns the text of elem's first child named tag, trimmed, or
// "" if absent.
func ChildText(elem *etree.Element, tag string) string {
	c := Child(elem, tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

// ChildInt returns the integer value of elem's first child named tag. ok is
// false if the child is missing or not a valid integer.
func ChildInt(elem *etree.Element, tag string) (int, bool) {
	s := ChildText(elem, tag)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ChildBool returns the boolean value ("1"/"0"/"true"/"false"/"yes"/"no",
// case-insensitively) of elem's first child named tag.
func ChildBool(elem *etree.Element, tag string) (bool, bool) {
	s := strings.ToLower(ChildText(elem, tag))
	switch s {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

// SetChildText sets (creating if absent) a direct child of elem named tag
// to contain text s.
func SetChildText(elem *etree.Element, tag, s string) *etree.Element {
	c := Child(elem, tag)
	if c == nil {
		c = elem.CreateElement(tag)
	}
	c.SetText(s)
	return c
}

func localName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
