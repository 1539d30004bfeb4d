package cmclient

import (
	"context"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/target"
)

// ResetPolicy resets the machine policy of every target. A full reset
// purges all policy and downloads it again; otherwise only the policy
// versions are reset.
func ResetPolicy(ctx context.Context, c *cmagent.Client, targets []target.Target, full bool) []cmagent.Result {
	var flags uint32
	if full {
		flags = 1
	}
	return invokeAll(ctx, c, targets, execute.Method{
		Namespace: NamespaceCCM,
		ClassName: "SMS_Client",
		Name:      "ResetPolicy",
		Args:      map[string]interface{}{"uFlags": flags},
	})
}

// SetProvisioningMode turns client provisioning mode on or off.
func SetProvisioningMode(ctx context.Context, c *cmagent.Client, targets []target.Target, enable bool) []cmagent.Result {
	return invokeAll(ctx, c, targets, execute.Method{
		Namespace: NamespaceCCM,
		ClassName: "SMS_Client",
		Name:      "SetClientProvisioningMode",
		Args:      map[string]interface{}{"bEnable": enable},
	})
}
