package cmclient

import (
	"context"
	"time"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/target"
)

// Application is an application deployment visible to the client.
type Application struct {
	ID                 string `cim:"Id" json:"id"`
	Revision           string `cim:"Revision" json:"revision"`
	Name               string `cim:"Name" json:"name"`
	Publisher          string `cim:"Publisher" json:"publisher,omitempty"`
	Version            string `cim:"SoftwareVersion" json:"version,omitempty"`
	InstallState       string `cim:"InstallState" json:"installState"`
	ApplicabilityState string `cim:"ApplicabilityState" json:"applicabilityState"`
	EvaluationState    uint32 `cim:"EvaluationState" json:"evaluationState"`
	IsMachineTarget    bool   `cim:"IsMachineTarget" json:"isMachineTarget"`
}

// SoftwareUpdate is a software update deployed to the client.
type SoftwareUpdate struct {
	ArticleID       string    `cim:"ArticleID" json:"articleId"`
	UpdateID        string    `cim:"UpdateID" json:"updateId"`
	Name            string    `cim:"Name" json:"name"`
	EvaluationState uint32    `cim:"EvaluationState" json:"evaluationState"`
	ComplianceState uint32    `cim:"ComplianceState" json:"complianceState"`
	PercentComplete uint32    `cim:"PercentComplete" json:"percentComplete"`
	Deadline        time.Time `cim:"Deadline" json:"deadline"`
}

// ServiceWindow is a maintenance window.
type ServiceWindow struct {
	ID        string    `cim:"ID" json:"id"`
	Type      uint32    `cim:"Type" json:"type"`
	TypeName  string    `cim:"-" json:"typeName"`
	StartTime time.Time `cim:"StartTime" json:"startTime"`
	EndTime   time.Time `cim:"EndTime" json:"endTime"`
	// Duration is in seconds.
	Duration uint32 `cim:"Duration" json:"duration"`
}

var serviceWindowTypes = map[uint32]string{
	1: "All Programs",
	2: "Program",
	3: "Reboot Required",
	4: "Software Update",
	5: "Task Sequence",
	6: "User Defined",
}

// Applications lists the applications deployed to every target. Payloads
// are []Application.
func Applications(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	return queryAll[Application](ctx, c, targets, execute.Query{Namespace: NamespaceClientSDK, ClassName: "CCM_Application"})
}

// SoftwareUpdates lists the updates deployed to every target. Payloads are
// []SoftwareUpdate.
func SoftwareUpdates(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	return queryAll[SoftwareUpdate](ctx, c, targets, execute.Query{Namespace: NamespaceClientSDK, ClassName: "CCM_SoftwareUpdate"})
}

// MaintenanceWindows lists the service windows of every target. Payloads
// are []ServiceWindow.
func MaintenanceWindows(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	q := execute.Query{Namespace: NamespaceClientSDK, ClassName: "CCM_ServiceWindow"}
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		records, err := c.Executor().Query(ctx, cc, q)
		if err != nil {
			return nil, err
		}
		windows, err := decodeAll[ServiceWindow](records)
		if err != nil {
			return nil, err
		}
		for i := range windows {
			windows[i].TypeName = serviceWindowTypes[windows[i].Type]
		}
		return windows, nil
	})
}
