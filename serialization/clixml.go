// Package serialization implements CLIXML serialization and deserialization.
//
// CLIXML is the XML format PowerShell uses to serialize objects between
// processes. This package encodes the positional arguments and named
// parameters handed to a remote shell, and decodes the objects a remote
// shell or CIM query writes back.
//
// # Supported Types
//
//   - Primitives: String, Char, Boolean, all integer widths, Single, Double,
//     Decimal, DateTime, TimeSpan, GUID, URI, Version
//   - Collections: Array/ArrayList (LST, IE, STK, QUE), Hashtable (DCT)
//   - Complex: PSObject with type names, properties and member sets
//   - Special: ScriptBlock, byte array
//
// # CLIXML Structure
//
//	<Objs Version="1.1.0.1" xmlns="http://schemas.microsoft.com/powershell/2004/04">
//	  <!-- Serialized objects here -->
//	</Objs>
//
// # Reference
//
// MS-PSRP Section 2.2.5: https://docs.microsoft.com/en-us/openspecs/windows_protocols/ms-psrp/
package serialization

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smnsjas/go-cmagent/objects"
)

// CLIXML namespace and version.
const (
	CLIXMLNamespace = "http://schemas.microsoft.com/powershell/2004/04"
	CLIXMLVersion   = "1.1.0.1"
)

// clixmlMarker is printed by PowerShell ahead of CLIXML on its output streams.
const clixmlMarker = "#< CLIXML"

const (
	// DefaultMaxRecursionDepth is the default limit for CLIXML nesting depth
	DefaultMaxRecursionDepth = 100
)

var (
	// ErrUnsupportedType is returned for unsupported types.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrInvalidCLIXML is returned for malformed CLIXML.
	ErrInvalidCLIXML = errors.New("invalid CLIXML")
	// ErrMaxRecursionDepth is returned when recursion depth limit is exceeded.
	ErrMaxRecursionDepth = errors.New("maximum recursion depth exceeded")
)

var hashtableTypeNames = []string{"System.Collections.Hashtable", "System.Object"}
var arrayTypeNames = []string{"System.Object[]", "System.Array", "System.Object"}

// PSObject represents a PowerShell object with type information and properties.
type PSObject struct {
	TypeNames  []string
	Properties map[string]interface{}
	// ToString optionally provides a string representation
	ToString string
	// Value holds the primitive an object wraps (enums, boxed values).
	Value interface{}
}

// Serializer encodes Go values to CLIXML.
type Serializer struct {
	buf        bytes.Buffer
	refCounter int
	tnRefs     map[string]int
}

// NewSerializer creates a new Serializer.
func NewSerializer() *Serializer {
	return &Serializer{tnRefs: make(map[string]int)}
}

// Serialize converts Go values to a CLIXML document, one top-level object
// per value.
func (s *Serializer) Serialize(values ...interface{}) ([]byte, error) {
	s.buf.Reset()
	s.refCounter = 0
	for k := range s.tnRefs {
		delete(s.tnRefs, k)
	}

	s.buf.WriteString(`<Objs Version="` + CLIXMLVersion + `" xmlns="` + CLIXMLNamespace + `">`)
	for i, v := range values {
		if err := s.serializeValue(v, ""); err != nil {
			return nil, fmt.Errorf("serialize value %d: %w", i, err)
		}
	}
	s.buf.WriteString("</Objs>")

	return append([]byte(nil), s.buf.Bytes()...), nil
}

func (s *Serializer) serializeValue(v interface{}, name string) error {
	switch val := v.(type) {
	case nil:
		s.writeEmpty("Nil", name)
		return nil
	case string:
		return s.writeText("S", name, escapeString(val))
	case bool:
		return s.writeText("B", name, strconv.FormatBool(val))
	case int:
		if val >= -1<<31 && val <= 1<<31-1 {
			return s.writeText("I32", name, strconv.Itoa(val))
		}
		return s.writeText("I64", name, strconv.Itoa(val))
	case int8:
		return s.writeText("SB", name, strconv.FormatInt(int64(val), 10))
	case int16:
		return s.writeText("I16", name, strconv.FormatInt(int64(val), 10))
	case int32:
		return s.writeText("I32", name, strconv.FormatInt(int64(val), 10))
	case int64:
		return s.writeText("I64", name, strconv.FormatInt(val, 10))
	case uint8:
		return s.writeText("By", name, strconv.FormatUint(uint64(val), 10))
	case uint16:
		return s.writeText("U16", name, strconv.FormatUint(uint64(val), 10))
	case uint32:
		return s.writeText("U32", name, strconv.FormatUint(uint64(val), 10))
	case uint64:
		return s.writeText("U64", name, strconv.FormatUint(val, 10))
	case float32:
		return s.writeText("Sg", name, strconv.FormatFloat(float64(val), 'g', -1, 32))
	case float64:
		return s.writeText("Db", name, strconv.FormatFloat(val, 'g', -1, 64))
	case []byte:
		return s.writeText("BA", name, base64.StdEncoding.EncodeToString(val))
	case time.Time:
		return s.writeText("DT", name, val.Format(time.RFC3339Nano))
	case time.Duration:
		return s.writeText("TS", name, formatDuration(val))
	case uuid.UUID:
		return s.writeText("G", name, val.String())
	case objects.ScriptBlock:
		return s.writeText("SBK", name, escapeString(val.Text))
	case *objects.ScriptBlock:
		return s.writeText("SBK", name, escapeString(val.Text))
	case objects.Record:
		return s.serializeHashtable(val, name)
	case map[string]interface{}:
		return s.serializeHashtable(val, name)
	case []interface{}:
		return s.serializeArray(reflect.ValueOf(val), name)
	case *PSObject:
		if val == nil {
			s.writeEmpty("Nil", name)
			return nil
		}
		return s.serializePSObject(val, name)
	case PSObject:
		return s.serializePSObject(&val, name)
	default:
		rVal := reflect.ValueOf(v)
		switch rVal.Kind() {
		case reflect.Slice, reflect.Array:
			return s.serializeArray(rVal, name)
		}
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (s *Serializer) openTag(tag, name string) {
	s.buf.WriteByte('<')
	s.buf.WriteString(tag)
	if name != "" {
		s.buf.WriteString(` N="`)
		_ = xml.EscapeText(&s.buf, []byte(escapeString(name)))
		s.buf.WriteByte('"')
	}
}

func (s *Serializer) writeEmpty(tag, name string) {
	s.openTag(tag, name)
	s.buf.WriteString("/>")
}

func (s *Serializer) writeText(tag, name, text string) error {
	s.openTag(tag, name)
	s.buf.WriteByte('>')
	if err := xml.EscapeText(&s.buf, []byte(text)); err != nil {
		return fmt.Errorf("escape %s: %w", tag, err)
	}
	s.buf.WriteString("</")
	s.buf.WriteString(tag)
	s.buf.WriteByte('>')
	return nil
}

// openObj writes <Obj N=".." RefId=".."> and its type names, reusing a
// <TNRef> when the same type name list was already written.
func (s *Serializer) openObj(name string, typeNames []string) error {
	refID := s.refCounter
	s.refCounter++

	s.openTag("Obj", name)
	s.buf.WriteString(` RefId="`)
	s.buf.WriteString(strconv.Itoa(refID))
	s.buf.WriteString(`">`)

	if len(typeNames) == 0 {
		return nil
	}
	key := strings.Join(typeNames, "|")
	if tnRefID, ok := s.tnRefs[key]; ok {
		s.buf.WriteString(`<TNRef RefId="`)
		s.buf.WriteString(strconv.Itoa(tnRefID))
		s.buf.WriteString(`"/>`)
		return nil
	}
	tnRefID := len(s.tnRefs)
	s.tnRefs[key] = tnRefID
	s.buf.WriteString(`<TN RefId="`)
	s.buf.WriteString(strconv.Itoa(tnRefID))
	s.buf.WriteString(`">`)
	for _, tn := range typeNames {
		s.buf.WriteString("<T>")
		if err := xml.EscapeText(&s.buf, []byte(tn)); err != nil {
			return fmt.Errorf("escape type name: %w", err)
		}
		s.buf.WriteString("</T>")
	}
	s.buf.WriteString("</TN>")
	return nil
}

// serializeArray serializes a slice or array as a LST element
func (s *Serializer) serializeArray(v reflect.Value, name string) error {
	if err := s.openObj(name, arrayTypeNames); err != nil {
		return err
	}
	s.buf.WriteString("<LST>")
	for i := 0; i < v.Len(); i++ {
		if err := s.serializeValue(v.Index(i).Interface(), ""); err != nil {
			return fmt.Errorf("serialize array element %d: %w", i, err)
		}
	}
	s.buf.WriteString("</LST></Obj>")
	return nil
}

// serializeHashtable serializes a map as a PowerShell Hashtable (DCT).
// Keys are written in sorted order so output is deterministic.
func (s *Serializer) serializeHashtable(m map[string]interface{}, name string) error {
	if err := s.openObj(name, hashtableTypeNames); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.buf.WriteString("<DCT>")
	for _, k := range keys {
		s.buf.WriteString("<En>")
		if err := s.writeText("S", "Key", escapeString(k)); err != nil {
			return err
		}
		if err := s.serializeValue(m[k], "Value"); err != nil {
			return fmt.Errorf("serialize dict value for key %s: %w", k, err)
		}
		s.buf.WriteString("</En>")
	}
	s.buf.WriteString("</DCT></Obj>")
	return nil
}

// serializePSObject serializes a PSObject with TypeNames and Properties
func (s *Serializer) serializePSObject(obj *PSObject, name string) error {
	if err := s.openObj(name, obj.TypeNames); err != nil {
		return err
	}
	if obj.ToString != "" {
		s.buf.WriteString("<ToString>")
		if err := xml.EscapeText(&s.buf, []byte(escapeString(obj.ToString))); err != nil {
			return fmt.Errorf("escape tostring: %w", err)
		}
		s.buf.WriteString("</ToString>")
	}
	if obj.Value != nil {
		if err := s.serializeValue(obj.Value, ""); err != nil {
			return fmt.Errorf("serialize wrapped value: %w", err)
		}
	}
	if len(obj.Properties) > 0 {
		keys := make([]string, 0, len(obj.Properties))
		for k := range obj.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.buf.WriteString("<Props>")
		for _, k := range keys {
			if err := s.serializeValue(obj.Properties[k], k); err != nil {
				return fmt.Errorf("serialize property %s: %w", k, err)
			}
		}
		s.buf.WriteString("</Props>")
	}
	s.buf.WriteString("</Obj>")
	return nil
}

// Deserializer decodes CLIXML to Go values.
type Deserializer struct {
	dec      *xml.Decoder
	objRefs  map[int]interface{} // Track deserialized objects by RefId
	tnRefs   map[int][]string    // Track TypeNames by RefId
	depth    int                 // Current recursion depth
	maxDepth int                 // Maximum allowed recursion depth
}

// NewDeserializer creates a new Deserializer with default recursion limit.
func NewDeserializer() *Deserializer {
	return NewDeserializerWithMaxDepth(DefaultMaxRecursionDepth)
}

// NewDeserializerWithMaxDepth creates a new Deserializer with custom recursion limit.
func NewDeserializerWithMaxDepth(maxDepth int) *Deserializer {
	return &Deserializer{
		objRefs:  make(map[int]interface{}),
		tnRefs:   make(map[int][]string),
		maxDepth: maxDepth,
	}
}

// Deserialize converts CLIXML bytes to Go values.
// Leading text before the first element (a UTF-8 BOM or the "#< CLIXML"
// marker PowerShell prints) is ignored.
func (d *Deserializer) Deserialize(data []byte) ([]interface{}, error) {
	data = bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf})
	data = bytes.TrimLeft(data, " \t\r\n")
	data = bytes.TrimPrefix(data, []byte(clixmlMarker))
	for k := range d.objRefs {
		delete(d.objRefs, k)
	}
	for k := range d.tnRefs {
		delete(d.tnRefs, k)
	}
	d.depth = 0
	d.dec = xml.NewDecoder(bytes.NewReader(data))

	var root xml.StartElement
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se
			break
		}
	}

	results := make([]interface{}, 0)
	if root.Name.Local != "Objs" {
		val, err := d.deserializeElement(root)
		if err != nil {
			return nil, err
		}
		return append(results, val), nil
	}

	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: read token: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			val, err := d.deserializeElement(t)
			if err != nil {
				return nil, err
			}
			results = append(results, val)
		case xml.EndElement:
			if t.Name.Local == "Objs" {
				return results, nil
			}
		}
	}
}

func (d *Deserializer) text(se xml.StartElement) (string, error) {
	var s string
	if err := d.dec.DecodeElement(&s, &se); err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrInvalidCLIXML, se.Name.Local, err)
	}
	return s, nil
}

func (d *Deserializer) deserializeElement(se xml.StartElement) (interface{}, error) {
	if d.depth >= d.maxDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrMaxRecursionDepth, d.maxDepth)
	}

	switch se.Name.Local {
	case "Nil":
		if err := d.dec.Skip(); err != nil {
			return nil, fmt.Errorf("skip nil: %w", err)
		}
		return nil, nil
	case "Obj":
		d.depth++
		defer func() { d.depth-- }()
		return d.deserializeObject(se)
	case "Ref":
		return d.deserializeRef(se)
	case "LST", "IE", "STK", "QUE":
		d.depth++
		defer func() { d.depth-- }()
		return d.deserializeList(se.Name.Local)
	case "DCT":
		d.depth++
		defer func() { d.depth-- }()
		return d.deserializeDict()
	}

	s, err := d.text(se)
	if err != nil {
		return nil, err
	}
	return parseScalar(se.Name.Local, s)
}

// parseScalar converts the text of a primitive element to its Go value.
// Unknown tags are returned as their text.
func parseScalar(tag, s string) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch tag {
	case "S", "URI", "Version", "XD":
		return unescapeString(s), nil
	case "C":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 16)
		v = string(rune(n))
	case "B":
		v = strings.EqualFold(s, "true")
	case "SB":
		var n int64
		n, err = strconv.ParseInt(s, 10, 8)
		v = int8(n)
	case "I16":
		var n int64
		n, err = strconv.ParseInt(s, 10, 16)
		v = int16(n)
	case "I32":
		var n int64
		n, err = strconv.ParseInt(s, 10, 32)
		v = int32(n)
	case "I64":
		v, err = strconv.ParseInt(s, 10, 64)
	case "By":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 8)
		v = uint8(n)
	case "U16":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 16)
		v = uint16(n)
	case "U32":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 32)
		v = uint32(n)
	case "U64":
		v, err = strconv.ParseUint(s, 10, 64)
	case "Sg":
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case "Db", "D":
		v, err = strconv.ParseFloat(s, 64)
	case "BA":
		v, err = base64.StdEncoding.DecodeString(s)
	case "G":
		v, err = uuid.Parse(s)
	case "DT":
		v, err = parseDateTime(s)
	case "TS":
		v, err = parseDuration(s)
	case "SBK":
		return objects.ScriptBlock{Text: unescapeString(s)}, nil
	case "SS":
		// SecureString payloads are only meaningful to the session that
		// produced them; keep the protected bytes.
		v, err = base64.StdEncoding.DecodeString(s)
	default:
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s %q: %v", ErrInvalidCLIXML, tag, s, err)
	}
	return v, nil
}

func (d *Deserializer) deserializeList(end string) ([]interface{}, error) {
	result := make([]interface{}, 0)
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			val, err := d.deserializeElement(t)
			if err != nil {
				return nil, err
			}
			result = append(result, val)
		case xml.EndElement:
			if t.Name.Local == end {
				return result, nil
			}
		}
	}
}

func (d *Deserializer) deserializeDict() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "En" {
				if err := d.dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			key, value, err := d.deserializeDictEntry()
			if err != nil {
				return nil, err
			}
			result[key] = value
		case xml.EndElement:
			if t.Name.Local == "DCT" {
				return result, nil
			}
		}
	}
}

func (d *Deserializer) deserializeDictEntry() (string, interface{}, error) {
	var key string
	var value interface{}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := attr(t, "N")
			val, err := d.deserializeElement(t)
			if err != nil {
				return "", nil, err
			}
			switch n {
			case "Key":
				key = fmt.Sprint(val)
			case "Value":
				value = val
			}
		case xml.EndElement:
			if t.Name.Local == "En" {
				return key, value, nil
			}
		}
	}
}

func (d *Deserializer) deserializeObject(se xml.StartElement) (interface{}, error) {
	obj := &PSObject{Properties: make(map[string]interface{})}
	refID, hasRefID := intAttr(se, "RefId")
	remember := func(v interface{}) interface{} {
		if hasRefID {
			d.objRefs[refID] = v
		}
		return v
	}

	var collection interface{}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "TN":
				typeNames, err := d.deserializeTypeNames()
				if err != nil {
					return nil, err
				}
				obj.TypeNames = typeNames
				if id, ok := intAttr(t, "RefId"); ok {
					d.tnRefs[id] = typeNames
				}
			case "TNRef":
				if id, ok := intAttr(t, "RefId"); ok {
					obj.TypeNames = d.tnRefs[id]
				}
				if err := d.dec.Skip(); err != nil {
					return nil, err
				}
			case "ToString":
				s, err := d.text(t)
				if err != nil {
					return nil, err
				}
				obj.ToString = unescapeString(s)
			case "Props", "MS":
				if err := d.deserializeProperties(t.Name.Local, obj.Properties); err != nil {
					return nil, err
				}
			case "LST", "IE", "STK", "QUE", "DCT":
				v, err := d.deserializeElement(t)
				if err != nil {
					return nil, err
				}
				collection = v
			default:
				v, err := d.deserializeElement(t)
				if err != nil {
					return nil, err
				}
				obj.Value = v
			}

		case xml.EndElement:
			if t.Name.Local != "Obj" {
				continue
			}
			// Collections stand for themselves; extended properties on a
			// list or hashtable are dropped.
			if collection != nil {
				return remember(collection), nil
			}
			return remember(obj), nil
		}
	}
}

func (d *Deserializer) deserializeTypeNames() ([]string, error) {
	var typeNames []string
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "T" {
				tn, err := d.text(t)
				if err != nil {
					return nil, err
				}
				typeNames = append(typeNames, tn)
			}
		case xml.EndElement:
			if t.Name.Local == "TN" {
				return typeNames, nil
			}
		}
	}
}

func (d *Deserializer) deserializeProperties(end string, props map[string]interface{}) error {
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCLIXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := unescapeString(attr(t, "N"))
			val, err := d.deserializeElement(t)
			if err != nil {
				return err
			}
			if name != "" {
				props[name] = val
			}
		case xml.EndElement:
			if t.Name.Local == end {
				return nil
			}
		}
	}
}

func (d *Deserializer) deserializeRef(se xml.StartElement) (interface{}, error) {
	if err := d.dec.Skip(); err != nil {
		return nil, err
	}
	refID, ok := intAttr(se, "RefId")
	if !ok {
		return nil, fmt.Errorf("%w: ref element missing RefId attribute", ErrInvalidCLIXML)
	}
	obj, exists := d.objRefs[refID]
	if !exists {
		return nil, fmt.Errorf("%w: reference to unknown object: RefId=%d", ErrInvalidCLIXML, refID)
	}
	return obj, nil
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func intAttr(se xml.StartElement, name string) (int, bool) {
	v := attr(se, name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// parseDateTime accepts both zoned and unspecified-kind .NET DateTime text.
func parseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}
