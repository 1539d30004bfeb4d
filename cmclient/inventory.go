package cmclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

// Schedules maps well-known client action names to their schedule ids.
var Schedules = map[string]string{
	"hardware":          "{00000000-0000-0000-0000-000000000001}",
	"software":          "{00000000-0000-0000-0000-000000000002}",
	"discovery":         "{00000000-0000-0000-0000-000000000003}",
	"filecollection":    "{00000000-0000-0000-0000-000000000010}",
	"machinepolicy":     "{00000000-0000-0000-0000-000000000021}",
	"machinepolicyeval": "{00000000-0000-0000-0000-000000000022}",
	"softwaremetering":  "{00000000-0000-0000-0000-000000000031}",
	"appdeployment":     "{00000000-0000-0000-0000-000000000121}",
	"updatedeployment":  "{00000000-0000-0000-0000-000000000108}",
	"statemessage":      "{00000000-0000-0000-0000-000000000111}",
	"updatescan":        "{00000000-0000-0000-0000-000000000113}",
}

// inventoryKinds are the schedules that are also inventory actions.
var inventoryKinds = []string{"hardware", "software", "discovery", "filecollection"}

// ScheduleID resolves an action name or a schedule GUID to the braced,
// upper-case form TriggerSchedule expects.
func ScheduleID(nameOrID string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if id, ok := Schedules[key]; ok {
		return id, nil
	}
	u, err := uuid.Parse(key)
	if err != nil {
		return "", fmt.Errorf("unknown schedule %q", nameOrID)
	}
	return "{" + strings.ToUpper(u.String()) + "}", nil
}

// ScheduleNames returns the known action names in sorted order.
func ScheduleNames() []string {
	names := make([]string, 0, len(Schedules))
	for n := range Schedules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InventoryAction is the last run of one inventory cycle.
type InventoryAction struct {
	ID               string    `cim:"InventoryActionID" json:"id"`
	Name             string    `cim:"-" json:"name,omitempty"`
	LastCycleStarted time.Time `cim:"LastCycleStartedDate" json:"lastCycleStarted"`
	LastReport       time.Time `cim:"LastReportDate" json:"lastReport"`
	MajorVersion     uint32    `cim:"LastMajorReportVersion" json:"majorVersion"`
	MinorVersion     uint32    `cim:"LastMinorReportVersion" json:"minorVersion"`
}

// InventoryStatus reads the inventory action status of every target.
// Known cycles get a Name.
func InventoryStatus(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	q := execute.Query{Namespace: NamespaceInvAgent, ClassName: "InventoryActionStatus"}
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		records, err := c.Executor().Query(ctx, cc, q)
		if err != nil {
			return nil, err
		}
		actions, err := decodeAll[InventoryAction](records)
		if err != nil {
			return nil, err
		}
		for i := range actions {
			actions[i].Name = inventoryName(actions[i].ID)
		}
		return actions, nil
	})
}

func inventoryName(id string) string {
	for _, kind := range inventoryKinds {
		if strings.EqualFold(Schedules[kind], id) {
			return kind
		}
	}
	return ""
}

// TriggerSchedule starts the client action with the given schedule id on
// every target. Payloads are objects.ReturnCode.
func TriggerSchedule(ctx context.Context, c *cmagent.Client, targets []target.Target, scheduleID string) []cmagent.Result {
	return invokeAll(ctx, c, targets, triggerMethod(scheduleID))
}

func triggerMethod(scheduleID string) execute.Method {
	return execute.Method{
		Namespace: NamespaceCCM,
		ClassName: "SMS_Client",
		Name:      "TriggerSchedule",
		Args:      map[string]interface{}{"sScheduleID": scheduleID},
	}
}

// fullInventory deletes the action's status instance so the next cycle
// sends a full report, then triggers the cycle.
var fullInventory = objects.ScriptBlock{Text: `param($ScheduleID)
Get-CimInstance -Namespace 'root\ccm\invagt' -ClassName InventoryActionStatus -Filter "InventoryActionID='$ScheduleID'" |
    Remove-CimInstance
$r = Invoke-CimMethod -Namespace 'root\ccm' -ClassName SMS_Client -MethodName TriggerSchedule -Arguments @{ sScheduleID = $ScheduleID }
$rv = $r.ReturnValue
if ($null -ne $r -and $null -eq $rv) { $rv = [uint32]0 }
[pscustomobject]@{ ReturnValue = $rv }
`}

// TriggerInventory starts an inventory cycle (hardware, software,
// discovery or filecollection). A full cycle first resets the action's
// status so the client sends a full report instead of a delta; that needs
// arbitrary logic, so structured-only targets fail it.
func TriggerInventory(ctx context.Context, c *cmagent.Client, targets []target.Target, kind string, full bool) []cmagent.Result {
	id, err := inventoryScheduleID(kind)
	if err != nil {
		return failAll(targets, err)
	}
	if !full {
		return TriggerSchedule(ctx, c, targets, id)
	}
	l := execute.Logic{Body: fullInventory, Args: []interface{}{id}}
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		out, err := c.Executor().Run(ctx, cc, l)
		if err != nil {
			return nil, err
		}
		rc, err := execute.ReturnCodeFromOutput(out)
		if err != nil {
			return nil, &execute.TransportError{Kind: cc.Kind(), Computer: cc.Name(), Op: "invoke SMS_Client.TriggerSchedule", Err: err}
		}
		if !rc.OK() {
			return rc, &MethodError{Computer: cc.Name(), Method: "SMS_Client.TriggerSchedule", Code: rc.Value}
		}
		return rc, nil
	})
}

func inventoryScheduleID(kind string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	for _, known := range inventoryKinds {
		if k == known {
			return Schedules[k], nil
		}
	}
	return "", fmt.Errorf("unknown inventory kind %q, want one of %s", kind, strings.Join(inventoryKinds, ", "))
}

// failAll reports err for every target without contacting any.
func failAll(targets []target.Target, err error) []cmagent.Result {
	results := make([]cmagent.Result, len(targets))
	for i, t := range targets {
		results[i] = cmagent.Result{Target: t.String(), Computer: t.Name(), Err: err}
	}
	return results
}
