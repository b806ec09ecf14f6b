// Package awx implements the controller client used by the engine.
package awx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// Client performs single, non-retrying requests against the controller's
// v2 API. It implements engine.ResourceClient.
type Client struct {
	transport Transport
	decoder   *decoder
	logger    zerolog.Logger
}

var _ engine.ResourceClient = (*Client)(nil)

// NewClient creates a client over transport.
func NewClient(transport Transport, logger zerolog.Logger) *Client {
	return &Client{
		transport: transport,
		decoder:   newDecoder(),
		logger:    logger.With().Str("component", "awx-client").Logger(),
	}
}

// List returns every resource of kind, following pagination. Any failed
// page aborts the listing.
func (c *Client) List(ctx context.Context, kind engine.Kind) ([]engine.ResourceRecord, error) {
	path, err := collectionPath(kind)
	if err != nil {
		return nil, err
	}
	return c.listRecords(ctx, kind, path)
}

// ListInInventory returns the groups or hosts of an inventory.
func (c *Client) ListInInventory(ctx context.Context, kind engine.Kind, inventoryID int64) ([]engine.ResourceRecord, error) {
	if !kind.InventoryScoped() {
		return nil, fmt.Errorf("%s is not contained in an inventory", kind)
	}
	collection := "hosts"
	if kind == engine.KindGroup {
		collection = "groups"
	}
	return c.listRecords(ctx, kind, fmt.Sprintf("%s%d/%s/", pathInventories, inventoryID, collection))
}

func (c *Client) listRecords(ctx context.Context, kind engine.Kind, path string) ([]engine.ResourceRecord, error) {
	var records []engine.ResourceRecord
	err := c.paginate(ctx, path, func(raw json.RawMessage) error {
		record, err := c.decoder.record(kind, raw)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// paginate walks a list endpoint through its next links and hands every
// result to fn.
func (c *Client) paginate(ctx context.Context, path string, fn func(json.RawMessage) error) error {
	visited := make(map[string]bool)
	next := path

	for pages := 0; next != ""; pages++ {
		if visited[next] || pages >= maxPagesPerListing {
			return &engine.TransportError{Op: "list", Method: http.MethodGet, Path: next,
				Err: fmt.Errorf("pagination does not terminate")}
		}
		visited[next] = true

		resp, err := c.transport.Send(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if resp.Status != http.StatusOK {
			return &engine.TransportError{Op: "list", Method: http.MethodGet, Path: next, Status: resp.Status,
				Err: fmt.Errorf("unexpected status: %s", truncate(resp.Body))}
		}

		var p page
		if err := json.Unmarshal(resp.Body, &p); err != nil {
			return &engine.TransportError{Op: "list", Method: http.MethodGet, Path: next, Status: resp.Status,
				Err: fmt.Errorf("unparseable body: %w", err)}
		}
		if err := c.decoder.validate.Struct(p); err != nil {
			return &engine.TransportError{Op: "list", Method: http.MethodGet, Path: next, Status: resp.Status,
				Err: fmt.Errorf("malformed page: %w", err)}
		}

		for _, raw := range p.Results {
			if err := fn(raw); err != nil {
				return err
			}
		}

		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return nil
}

// Create submits desired. Only 200 and 201 count as success; any other
// status is returned as *engine.CreationRejected.
func (c *Client) Create(ctx context.Context, desired engine.Desired) (engine.ResourceRecord, error) {
	path, err := collectionPath(desired.Kind)
	if err != nil {
		return engine.ResourceRecord{}, err
	}

	body := make(map[string]interface{}, len(desired.Attributes)+2)
	for k, v := range desired.Attributes {
		body[k] = v
	}
	body["name"] = desired.Name
	if field := scopeField(desired.Kind); field != "" {
		body[field] = desired.Scope
	}

	resp, err := c.transport.Send(ctx, http.MethodPost, path, body)
	if err != nil {
		return engine.ResourceRecord{}, err
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusCreated {
		return engine.ResourceRecord{}, &engine.CreationRejected{
			Kind:   desired.Kind,
			Name:   desired.Name,
			Status: resp.Status,
			Body:   string(resp.Body),
		}
	}

	return c.decoder.record(desired.Kind, resp.Body)
}

// Delete removes a resource. 404 counts as success.
func (c *Client) Delete(ctx context.Context, kind engine.Kind, id int64) error {
	collection, err := collectionPath(kind)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s%d/", collection, id)

	resp, err := c.transport.Send(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if isSuccess(resp.Status) || resp.Status == http.StatusNotFound {
		return nil
	}
	return &engine.TransportError{Op: "delete", Method: http.MethodDelete, Path: path, Status: resp.Status,
		Err: fmt.Errorf("unexpected status: %s", truncate(resp.Body))}
}

// AddHostToGroup associates a host with a group.
func (c *Client) AddHostToGroup(ctx context.Context, groupID, hostID int64) error {
	path := fmt.Sprintf("%s%d/hosts/", pathGroups, groupID)

	resp, err := c.transport.Send(ctx, http.MethodPost, path, map[string]interface{}{"id": hostID})
	if err != nil {
		return err
	}
	if !isSuccess(resp.Status) {
		return &engine.TransportError{Op: "associate", Method: http.MethodPost, Path: path, Status: resp.Status,
			Err: fmt.Errorf("unexpected status: %s", truncate(resp.Body))}
	}
	return nil
}

// TriggerProjectUpdate requests a source-control sync. It reports true only
// when the controller answers 202 Accepted.
func (c *Client) TriggerProjectUpdate(ctx context.Context, projectID int64, body map[string]interface{}) (bool, error) {
	path := fmt.Sprintf("%s%d/update/", pathProjects, projectID)

	resp, err := c.transport.Send(ctx, http.MethodPost, path, body)
	if err != nil {
		return false, err
	}
	if resp.Status != projectUpdateStarted {
		c.logger.Debug().
			Int64("project_id", projectID).
			Int("status", resp.Status).
			Str("body", truncate(resp.Body)).
			Msg("Project update not accepted")
		return false, nil
	}
	return true, nil
}

// ListProjectUpdates returns every project update, across all pages.
func (c *Client) ListProjectUpdates(ctx context.Context) ([]engine.AsyncOperation, error) {
	var ops []engine.AsyncOperation
	err := c.paginate(ctx, pathProjectUpdates, func(raw json.RawMessage) error {
		op, err := c.decoder.projectUpdate(raw)
		if err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
