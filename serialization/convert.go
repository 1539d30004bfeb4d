package serialization

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smnsjas/go-cmagent/objects"
)

// ToGo converts a deserialized value into plain Go values: objects with
// properties become objects.Record, wrapped primitives (enums, boxed values)
// become the primitive, property-less objects become their ToString text,
// and lists and hashtables are converted element by element.
func ToGo(v interface{}) interface{} {
	switch val := v.(type) {
	case *PSObject:
		if len(val.Properties) > 0 {
			return toRecord(val.Properties)
		}
		if val.Value != nil {
			return ToGo(val.Value)
		}
		if val.ToString != "" {
			return val.ToString
		}
		return objects.Record{}
	case map[string]interface{}:
		return toRecord(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = ToGo(item)
		}
		return out
	default:
		return v
	}
}

func toRecord(m map[string]interface{}) objects.Record {
	rec := make(objects.Record, len(m))
	for k, v := range m {
		rec[k] = ToGo(v)
	}
	return rec
}

// DecodeOutput deserializes a CLIXML document and converts every top-level
// value with ToGo. A single top-level list is flattened, which is how a
// serialized @(...) output array arrives.
func DecodeOutput(data []byte) ([]interface{}, error) {
	d := NewDeserializer()
	values, err := d.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		if list, ok := values[0].([]interface{}); ok {
			values = list
		}
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = ToGo(v)
	}
	return out, nil
}

// formatDuration renders d as an xs:duration, the TimeSpan text form.
func formatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10))
		b.WriteByte('D')
	}
	b.WriteByte('T')
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	if h > 0 {
		b.WriteString(strconv.FormatInt(int64(h), 10))
		b.WriteByte('H')
	}
	if m > 0 {
		b.WriteString(strconv.FormatInt(int64(m), 10))
		b.WriteByte('M')
	}
	b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
	b.WriteByte('S')
	return b.String()
}

// parseDuration parses an xs:duration such as "P1DT2H30M15.5S".
// Years and months are rejected since TimeSpan never emits them.
func parseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("duration %q: missing P designator", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	parts := 0
	for len(s) > 0 {
		if s[0] == 'T' {
			inTime = true
			s = s[1:]
			continue
		}
		i := 0
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("duration %q: malformed component", orig)
		}
		n, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", orig, err)
		}
		var unit time.Duration
		switch {
		case s[i] == 'D' && !inTime:
			unit = 24 * time.Hour
		case s[i] == 'H' && inTime:
			unit = time.Hour
		case s[i] == 'M' && inTime:
			unit = time.Minute
		case s[i] == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("duration %q: unsupported designator %q", orig, s[i])
		}
		total += time.Duration(n * float64(unit))
		s = s[i+1:]
		parts++
	}
	if parts == 0 {
		return 0, fmt.Errorf("duration %q: no components", orig)
	}
	if neg {
		total = -total
	}
	return total, nil
}
