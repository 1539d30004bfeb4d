package cmclient

import (
	"context"
	"fmt"
	"strings"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/target"
)

// Hive is a StdRegProv root key.
type Hive uint32

// Registry hives.
const (
	HKCR Hive = 0x80000000
	HKCU Hive = 0x80000001
	HKLM Hive = 0x80000002
	HKU  Hive = 0x80000003
	HKCC Hive = 0x80000005
)

// ParseHive accepts short (HKLM) and long (HKEY_LOCAL_MACHINE) names.
func ParseHive(s string) (Hive, error) {
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(s), ":")) {
	case "HKCR", "HKEY_CLASSES_ROOT":
		return HKCR, nil
	case "HKCU", "HKEY_CURRENT_USER":
		return HKCU, nil
	case "HKLM", "HKEY_LOCAL_MACHINE":
		return HKLM, nil
	case "HKU", "HKEY_USERS":
		return HKU, nil
	case "HKCC", "HKEY_CURRENT_CONFIG":
		return HKCC, nil
	default:
		return 0, fmt.Errorf("unknown registry hive %q", s)
	}
}

// ValueType is the registry value type read or written.
type ValueType string

// Supported value types.
const (
	String ValueType = "string"
	DWord  ValueType = "dword"
)

// ParseValueType parses string or dword.
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", String, "sz", "reg_sz":
		return String, nil
	case DWord, "reg_dword":
		return DWord, nil
	default:
		return "", fmt.Errorf("unknown registry value type %q", s)
	}
}

// RegistryValue addresses one registry value.
type RegistryValue struct {
	Hive Hive
	Key  string
	Name string
	Type ValueType
}

func (v RegistryValue) args() map[string]interface{} {
	return map[string]interface{}{
		"hDefKey":     uint32(v.Hive),
		"sSubKeyName": v.Key,
		"sValueName":  v.Name,
	}
}

func (v RegistryValue) method(verb string) (execute.Method, string) {
	m := execute.Method{Namespace: NamespaceDefault, ClassName: "StdRegProv", Args: v.args()}
	if v.Type == DWord {
		m.Name = verb + "DWORDValue"
		return m, "uValue"
	}
	m.Name = verb + "StringValue"
	return m, "sValue"
}

// GetRegistryValue reads v on every target. Payloads are a string or a
// uint32 depending on v.Type.
func GetRegistryValue(ctx context.Context, c *cmagent.Client, targets []target.Target, v RegistryValue) []cmagent.Result {
	m, out := v.method("Get")
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		rc, err := invoke(ctx, c, cc, m)
		if err != nil {
			return nil, err
		}
		raw, ok := rc.Outputs.Get(out)
		if !ok {
			return nil, fmt.Errorf("%s returned no %s", m.Name, out)
		}
		if v.Type == DWord {
			var n uint32
			if err := decodeValue(raw, &n); err != nil {
				return nil, err
			}
			return n, nil
		}
		var s string
		if err := decodeValue(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// SetRegistryValue writes data to v on every target, creating the value
// but not the key. Payloads are objects.ReturnCode.
func SetRegistryValue(ctx context.Context, c *cmagent.Client, targets []target.Target, v RegistryValue, data string) []cmagent.Result {
	m, in := v.method("Set")
	if v.Type == DWord {
		var n uint32
		if err := decodeValue(data, &n); err != nil {
			return failAll(targets, fmt.Errorf("dword value %q: %w", data, err))
		}
		m.Args[in] = n
	} else {
		m.Args[in] = data
	}
	return invokeAll(ctx, c, targets, m)
}
