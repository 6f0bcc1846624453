package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// metadataTemplate is evaluated server-side by the automation server's
// templating engine. It renders a JSON array with one element per entity,
// carrying the area name, labels, and owning device id. area_name and
// device_id return none for unassigned entities; the or-fallbacks keep the
// output valid JSON.
const metadataTemplate = `[
{%- for s in states -%}
{"entity_id": {{ s.entity_id | tojson }}, "area": {{ (area_name(s.entity_id) or "") | tojson }}, "labels": {{ (labels(s.entity_id) or []) | tojson }}, "device_id": {{ (device_id(s.entity_id) or "") | tojson }}}{{ "," if not loop.last }}
{%- endfor -%}
]`

// templateRequest is the body of POST /api/template.
type templateRequest struct {
	Template string `json:"template"`
}

// RenderMetadata asks the automation server to compute per-entity area,
// labels, and device id via a template query, returned as a lookup by
// entity id.
//
// Callers must treat failure here as non-fatal: the device fetch degrades
// to domain-based classification when metadata is unavailable.
func (c *Client) RenderMetadata(ctx context.Context, target Target) (map[string]EntityMeta, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetAuthToken(target.Token).
		SetBody(templateRequest{Template: metadataTemplate}).
		Post(target.BaseURL + "/api/template")
	if err != nil {
		return nil, annotateNetworkError("rendering metadata template", target.BaseURL, err)
	}
	if resp.IsError() {
		return nil, newHTTPError("rendering metadata template", resp)
	}

	// The response body is the rendered template itself, not a JSON envelope.
	var metas []EntityMeta
	if err := json.Unmarshal(resp.Body(), &metas); err != nil {
		return nil, fmt.Errorf("gateway: parsing rendered metadata: %w", err)
	}

	byEntity := make(map[string]EntityMeta, len(metas))
	for _, m := range metas {
		byEntity[m.EntityID] = m
	}
	return byEntity, nil
}
