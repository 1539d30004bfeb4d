package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowerShellBuilder(t *testing.T) {
	ps := NewPowerShell()
	ps.AddCommand("Get-CimInstance", false)
	ps.AddParameter("ClassName", "SMS_Client")
	ps.AddParameter("", "positional")

	require.Len(t, ps.Commands, 1)
	cmd := ps.Commands[0]
	assert.Equal(t, "Get-CimInstance", cmd.Name)
	assert.False(t, cmd.IsScript)
	assert.Equal(t, []interface{}{"positional"}, cmd.Positional())
	assert.Equal(t, map[string]interface{}{"ClassName": "SMS_Client"}, cmd.Named())
}

func TestPowerShellAddParameterWithoutCommand(t *testing.T) {
	ps := NewPowerShell()
	ps.AddParameter("Name", "ignored")
	assert.Empty(t, ps.Commands)
}

func TestRecordWithoutMetadata(t *testing.T) {
	rec := Record{
		"ClientVersion":       "5.00.9122.1000",
		"PSComputerName":      "srv1",
		"CimSystemProperties": Record{"Namespace": "root/ccm"},
	}

	clean := rec.WithoutMetadata()
	assert.Equal(t, Record{"ClientVersion": "5.00.9122.1000"}, clean)
	assert.Len(t, rec, 3, "original must not be modified")
}

func TestRecordGetCaseInsensitive(t *testing.T) {
	rec := Record{"ClientVersion": "5.0", "Size": int32(5120)}

	v, ok := rec.String("clientversion")
	require.True(t, ok)
	assert.Equal(t, "5.0", v)

	s, ok := rec.String("Size")
	require.True(t, ok)
	assert.Equal(t, "5120", s)

	_, ok = rec.Get("Missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"ClientVersion", "Size"}, rec.Keys())
}

func TestErrorRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "full",
			rec: Record{
				"Message":               "Access denied",
				"ExceptionType":         "Microsoft.Management.Infrastructure.CimException",
				"FullyQualifiedErrorId": "HRESULT 0x80041003",
			},
			want: "Microsoft.Management.Infrastructure.CimException (HRESULT 0x80041003): Access denied",
		},
		{
			name: "type only",
			rec:  Record{"Message": "boom", "ExceptionType": "System.Exception"},
			want: "System.Exception: boom",
		},
		{
			name: "message only",
			rec:  Record{"Message": "boom"},
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, ErrorRecordFromRecord(tt.rec), tt.want)
		})
	}
}

func TestReturnCode(t *testing.T) {
	assert.True(t, ReturnCode{}.OK())
	assert.False(t, ReturnCode{Value: 5}.OK())
}

func TestReturnCodeFromRecord(t *testing.T) {
	rc, err := ReturnCodeFromRecord(Record{
		"ReturnValue":    uint32(2),
		"sValue":         "C:\\Windows\\ccmcache",
		"PSComputerName": "SRV1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rc.Value)
	assert.False(t, rc.OK())
	assert.Equal(t, Record{"sValue": "C:\\Windows\\ccmcache"}, rc.Outputs)

	rc, err = ReturnCodeFromRecord(Record{"returnvalue": int32(0)})
	require.NoError(t, err)
	assert.True(t, rc.OK())
	assert.NotNil(t, rc.Outputs)
}

func TestReturnCodeFromRecordWithoutValue(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{name: "missing", rec: Record{}},
		{name: "metadata only", rec: Record{"PSComputerName": "SRV1"}},
		{name: "nil", rec: Record{"ReturnValue": nil}},
		{name: "string", rec: Record{"ReturnValue": "5"}},
		{name: "bool", rec: Record{"ReturnValue": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := ReturnCodeFromRecord(tt.rec)
			assert.ErrorIs(t, err, ErrNoReturnValue)
			assert.Equal(t, ReturnCode{}, rc)
		})
	}
}
