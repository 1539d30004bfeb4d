package cmclient

import (
	"context"
	"strings"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

// ClientInfo describes the installed client agent.
type ClientInfo struct {
	Version         string `cim:"ClientVersion" json:"version"`
	ClientID        string `cim:"ClientId" json:"clientId"`
	SiteCode        string `json:"siteCode"`
	ManagementPoint string `cim:"CurrentManagementPoint" json:"managementPoint"`
}

// GetClientInfo reads the client version, client id and assigned site of
// every target.
func GetClientInfo(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		return clientInfo(ctx, c.Executor(), cc)
	})
}

func clientInfo(ctx context.Context, e *execute.Executor, cc target.ConnectionContext) (ClientInfo, error) {
	var info ClientInfo
	for _, class := range []string{"SMS_Client", "CCM_Client", "SMS_Authority"} {
		records, err := e.Query(ctx, cc, execute.Query{Namespace: NamespaceCCM, ClassName: class})
		if err != nil {
			return ClientInfo{}, err
		}
		if len(records) == 0 {
			continue
		}
		if err := decode(records[0], &info); err != nil {
			return ClientInfo{}, err
		}
		if class == "SMS_Authority" {
			info.SiteCode = siteCode(records[0])
		}
	}
	return info, nil
}

// siteCode extracts ABC from an SMS_Authority name of the form "SMS:ABC".
func siteCode(r objects.Record) string {
	name, _ := r.String("Name")
	_, code, found := strings.Cut(name, ":")
	if !found {
		return name
	}
	return code
}
