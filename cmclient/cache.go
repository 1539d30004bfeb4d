package cmclient

import (
	"context"
	"fmt"
	"time"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

// CacheConfig is the client content cache location and size.
type CacheConfig struct {
	Location string `cim:"Location" json:"location"`
	SizeMB   uint32 `cim:"Size" json:"sizeMB"`
}

// CacheElement is one item in the client content cache.
type CacheElement struct {
	CacheID        string    `cim:"CacheId" json:"cacheId"`
	ContentID      string    `cim:"ContentId" json:"contentId"`
	ContentVersion string    `cim:"ContentVersion" json:"contentVersion"`
	Location       string    `cim:"Location" json:"location"`
	SizeKB         uint32    `cim:"ContentSize" json:"sizeKB"`
	LastReferenced time.Time `cim:"LastReferenced" json:"lastReferenced"`
	Persist        bool      `cim:"PersistInCache" json:"persist"`
}

// GetCacheConfig reads the cache configuration of every target. Payloads
// are []CacheConfig.
func GetCacheConfig(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	return queryAll[CacheConfig](ctx, c, targets, execute.Query{Namespace: NamespaceSoftMgmt, ClassName: "CacheConfig"})
}

// CacheContent lists the cached content of every target. Payloads are
// []CacheElement.
func CacheContent(ctx context.Context, c *cmagent.Client, targets []target.Target) []cmagent.Result {
	return queryAll[CacheElement](ctx, c, targets, execute.Query{Namespace: NamespaceSoftMgmt, ClassName: "CacheInfoEx"})
}

// clearCache asks the client to delete every cache element, persisted ones
// only when $IncludePersisted is set, and reports how many elements are
// gone afterwards. The client silently keeps elements it refuses to delete,
// so the count comes from the cache itself.
var clearCache = objects.ScriptBlock{Text: `param([bool]$IncludePersisted)
$ui = New-Object -ComObject UIResource.UIResourceMgr
$cache = $ui.GetCacheInfo()
$elements = @($cache.GetCacheElements())
foreach ($e in $elements) {
    $cache.DeleteCacheElementEx([string]$e.CacheElementID, $IncludePersisted)
}
$left = @($cache.GetCacheElements()).Count
$elements.Count - $left
`}

// ClearCache empties the content cache of every target. The COM interface
// it needs is only reachable through arbitrary logic, so structured-only
// targets fail it. Payloads are the number of elements actually removed;
// persisted elements stay unless includePersisted is set.
func ClearCache(ctx context.Context, c *cmagent.Client, targets []target.Target, includePersisted bool) []cmagent.Result {
	l := execute.Logic{Body: clearCache, Args: []interface{}{includePersisted}}
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		out, err := c.Executor().Run(ctx, cc, l)
		if err != nil {
			return nil, err
		}
		return countFromOutput(out)
	})
}

func countFromOutput(out []interface{}) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	var n int
	if err := decodeValue(out[len(out)-1], &n); err != nil {
		return 0, fmt.Errorf("unexpected output %v: %w", out[len(out)-1], err)
	}
	return n, nil
}
