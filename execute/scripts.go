package execute

import (
	"errors"

	"github.com/smnsjas/go-cmagent/objects"
)

// QueryScript runs Get-CimInstance where the script executes. With
// $ComputerName it addresses that computer; with $Protocol as well it
// builds a CIM session with that protocol and removes it afterwards.
var QueryScript = objects.ScriptBlock{Text: `param(
    [string]$Namespace,
    [string]$ClassName,
    [string]$Filter,
    [string]$Query,
    [string]$ComputerName,
    [string]$Protocol
)
$ErrorActionPreference = 'Stop'
$p = @{ Namespace = $Namespace }
$s = $null
if ($Protocol) {
    $opt = New-CimSessionOption -Protocol $Protocol
    $s = New-CimSession -ComputerName $ComputerName -SessionOption $opt
    $p.CimSession = $s
} elseif ($ComputerName) {
    $p.ComputerName = $ComputerName
}
try {
    if ($Query) {
        $p.Query = $Query
    } else {
        $p.ClassName = $ClassName
        if ($Filter) { $p.Filter = $Filter }
    }
    Get-CimInstance @p
} finally {
    if ($s) { Remove-CimSession -CimSession $s }
}`}

// MethodScript runs Invoke-CimMethod where the script executes and emits one
// object holding ReturnValue and the out parameters. A void method that
// completed reports ReturnValue 0. Binding parameters behave as in
// QueryScript.
var MethodScript = objects.ScriptBlock{Text: `param(
    [string]$Namespace,
    [string]$ClassName,
    [string]$MethodName,
    [hashtable]$Arguments,
    [string]$ComputerName,
    [string]$Protocol
)
$ErrorActionPreference = 'Stop'
$p = @{ Namespace = $Namespace; ClassName = $ClassName; MethodName = $MethodName; Arguments = $Arguments }
$s = $null
if ($Protocol) {
    $opt = New-CimSessionOption -Protocol $Protocol
    $s = New-CimSession -ComputerName $ComputerName -SessionOption $opt
    $p.CimSession = $s
} elseif ($ComputerName) {
    $p.ComputerName = $ComputerName
}
try {
    $r = Invoke-CimMethod @p
    $o = [ordered]@{}
    foreach ($prop in $r.PSObject.Properties) {
        if ($prop.Name -ne 'PSComputerName') { $o[$prop.Name] = $prop.Value }
    }
    if (-not $o.Contains('ReturnValue')) { $o['ReturnValue'] = $r.ReturnValue }
    if ($null -ne $r -and $null -eq $o['ReturnValue']) { $o['ReturnValue'] = [uint32]0 }
    [pscustomobject]$o
} finally {
    if ($s) { Remove-CimSession -CimSession $s }
}`}

// errNoResult is returned when a method call produced no result object.
var errNoResult = errors.New("method produced no result")

// QueryArgs returns the positional arguments of QueryScript. An empty
// computer runs the query where the script runs.
func QueryArgs(q Query, computer, protocol string) []interface{} {
	return []interface{}{q.NS(), q.ClassName, q.Filter, q.WQL, computer, protocol}
}

// MethodArgs returns the positional arguments of MethodScript.
func MethodArgs(m Method, computer, protocol string) []interface{} {
	args := m.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	return []interface{}{m.NS(), m.ClassName, m.Name, args, computer, protocol}
}

// RecordsFromOutput converts script output to records. Items that are not
// records are wrapped as {"Value": item}. The result is never nil.
func RecordsFromOutput(values []interface{}) []objects.Record {
	records := make([]objects.Record, 0, len(values))
	for _, v := range values {
		switch rec := v.(type) {
		case objects.Record:
			records = append(records, rec)
		case nil:
		default:
			records = append(records, objects.Record{"Value": rec})
		}
	}
	return records
}

// ReturnCodeFromOutput converts MethodScript output to a ReturnCode. It
// fails when there is no result object or the object has no integer
// ReturnValue.
func ReturnCodeFromOutput(values []interface{}) (objects.ReturnCode, error) {
	for _, v := range values {
		if rec, ok := v.(objects.Record); ok {
			return objects.ReturnCodeFromRecord(rec)
		}
	}
	return objects.ReturnCode{}, errNoResult
}
