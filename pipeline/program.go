package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/serialization"
)

// DefaultDepth is the PSSerializer depth used for output.
const DefaultDepth = 4

// OutputMarker precedes the output document on stdout, separating it from
// anything the commands wrote to the host.
const OutputMarker = "<<CMAGENT-OUTPUT>>"

// Program renders the pipeline into a self-contained PowerShell program.
func (p *Pipeline) Program() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return render(p.powerShell.Commands, p.depth)
}

func render(commands []objects.Command, depth int) (string, error) {
	if len(commands) == 0 {
		return "", ErrNoCommands
	}

	spec := make([]interface{}, len(commands))
	for i, c := range commands {
		args := c.Positional()
		if args == nil {
			args = []interface{}{}
		}
		spec[i] = map[string]interface{}{
			"Name":     c.Name,
			"IsScript": c.IsScript,
			"Args":     args,
			"Params":   c.Named(),
		}
	}
	data, err := serialization.NewSerializer().Serialize(spec)
	if err != nil {
		return "", fmt.Errorf("serialize commands: %w", err)
	}

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("$ProgressPreference = 'SilentlyContinue'\n")
	b.WriteString("try {\n")
	b.WriteString("    $cmds = @([System.Management.Automation.PSSerializer]::Deserialize(")
	b.WriteString(quote(string(data)))
	b.WriteString("))\n")

	stages := make([]string, len(commands))
	for i := range commands {
		n := strconv.Itoa(i)
		b.WriteString("    $x" + n + " = $cmds[" + n + "]\n")
		b.WriteString("    $e" + n + " = if ($x" + n + ".IsScript) { [scriptblock]::Create($x" + n + ".Name) } else { $x" + n + ".Name }\n")
		b.WriteString("    $a" + n + " = @($x" + n + ".Args)\n")
		b.WriteString("    $p" + n + " = $x" + n + ".Params\n")
		stages[i] = "& $e" + n + " @a" + n + " @p" + n
	}
	b.WriteString("    $out = @(" + strings.Join(stages, " | ") + ")\n")
	b.WriteString("    [Console]::Out.Write(" + quote(OutputMarker) +
		" + [System.Management.Automation.PSSerializer]::Serialize($out, " + strconv.Itoa(depth) + "))\n")
	b.WriteString("} catch {\n")
	b.WriteString("    $err = [pscustomobject]@{\n")
	b.WriteString("        CmAgentError = $true\n")
	b.WriteString("        Message = $_.Exception.Message\n")
	b.WriteString("        ExceptionType = $_.Exception.GetType().FullName\n")
	b.WriteString("        FullyQualifiedErrorId = $_.FullyQualifiedErrorId\n")
	b.WriteString("        Category = $_.CategoryInfo.Category.ToString()\n")
	b.WriteString("        ScriptStackTrace = $_.ScriptStackTrace\n")
	b.WriteString("    }\n")
	b.WriteString("    [Console]::Out.Write(" + quote(OutputMarker) +
		" + [System.Management.Automation.PSSerializer]::Serialize($err, 2))\n")
	b.WriteString("    exit 1\n")
	b.WriteString("}\n")
	return b.String(), nil
}

// quote renders s as a PowerShell single-quoted string literal. PowerShell
// treats the typographic single quotes as quote characters too.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '‘', '’', '‚', '‛':
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
