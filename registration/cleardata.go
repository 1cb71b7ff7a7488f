package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/symbiote-h2020/Registry-sub000/message"
)

// ClearDataRequest asks for every resource of one platform to be deleted,
// typically when the platform itself is decommissioned
type ClearDataRequest struct {
	SecurityRequest *message.SecurityRequest `json:"securityRequest"`
	PlatformID      string                   `json:"platformId"`
}

// HandleClearData deletes every resource whose normalized service URL
// belongs to the target platform's interworking services
func (o *Orchestrator) HandleClearData(ctx context.Context, d Delivery) {
	const kind = message.KindResource

	var req ClearDataRequest
	if err := json.Unmarshal(d.Data, &req); err != nil {
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, "malformed request: "+err.Error(), message.DescriptionBasic))
		return
	}
	if req.PlatformID == "" {
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, "request names no platform", message.DescriptionBasic))
		return
	}

	access := o.gate.CheckOperationAccess(ctx, req.SecurityRequest, req.PlatformID)
	if !access.Validated {
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, access.Message, message.DescriptionBasic))
		return
	}

	platformRes := o.store.FindByID(ctx, message.KindPlatform, req.PlatformID)
	if !platformRes.OK() {
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, "platform "+req.PlatformID+" not registered", message.DescriptionBasic))
		return
	}
	platform, ok := platformRes.Entity.(*message.Platform)
	if !ok {
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, "scope "+req.PlatformID+" is not a platform", message.DescriptionBasic))
		return
	}

	removed := make(message.KeyedBatch)
	var failures []string
	for _, url := range platform.ServiceURLs() {
		resources, err := o.store.FindResourcesByServiceURL(ctx, url)
		if err != nil {
			failures = append(failures, fmt.Sprintf("lookup %s: %v", url, err))
			continue
		}
		for _, res := range resources {
			if del := o.store.Delete(ctx, kind, res.ID); !del.OK() {
				failures = append(failures, fmt.Sprintf("delete %s: %s", res.ID, del.Message))
				continue
			}
			removed[res.ID] = res
		}
	}

	if len(failures) > 0 {
		// Partial clearing is reported as a failure; already-deleted
		// resources stay deleted, clearing is idempotent and retried by
		// the caller
		o.logger.Error("Platform data clearing incomplete",
			"platform_id", req.PlatformID,
			"removed", len(removed),
			"failures", len(failures))
		o.reply(message.KindPlatform, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusServerError,
			fmt.Sprintf("cleared %d resources, %d failures: %s", len(removed), len(failures), failures[0]),
			message.DescriptionBasic))
		return
	}

	if len(removed) > 0 {
		o.broadcaster.Notify(ctx, kind, message.OpRemoval, req.PlatformID, removed, nil)
	}

	body, err := message.MarshalKeyed(removed)
	if err != nil {
		body = []byte("{}")
	}
	o.reply(message.KindPlatform, message.OpRemoval, d, &message.ResponseEnvelope{
		Status:          message.StatusOK,
		Message:         fmt.Sprintf("cleared %d resources of platform %s", len(removed), req.PlatformID),
		DescriptionType: message.DescriptionBasic,
		Body:            body,
	})
}
