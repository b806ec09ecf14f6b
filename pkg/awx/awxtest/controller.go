// Package awxtest provides an in-memory controller for tests. It speaks the
// subset of the v2 API the awx client uses and implements awx.Transport.
package awxtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/openfroyo/awxlab/pkg/awx"
	"github.com/openfroyo/awxlab/pkg/engine"
)

// DefaultPageSize is the number of results per list page.
const DefaultPageSize = 25

// DefaultUpdateScript is the status sequence a project update walks through,
// one step per listing of project updates.
var DefaultUpdateScript = []engine.OperationStatus{
	engine.OperationStatusPending,
	engine.OperationStatusRunning,
	engine.OperationStatusSuccessful,
}

var collections = map[string]engine.Kind{
	"inventories":   engine.KindInventory,
	"groups":        engine.KindGroup,
	"hosts":         engine.KindHost,
	"projects":      engine.KindProject,
	"job_templates": engine.KindJobTemplate,
}

// Request is a request seen by the controller.
type Request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// Object is a stored resource as the API would render it.
type Object map[string]interface{}

// ID returns the object id.
func (o Object) ID() int64 { return toInt64(o["id"]) }

// Name returns the object name.
func (o Object) Name() string {
	s, _ := o["name"].(string)
	return s
}

type failure struct {
	method      string
	prefix      string
	status      int
	body        string
	unreachable bool
	remaining   int // <0 means forever
}

type update struct {
	object Object
	step   int
	script []engine.OperationStatus
}

// Controller is an in-memory controller. The zero value is not usable; use
// NewController.
type Controller struct {
	// PageSize is the number of results per list page.
	PageSize int

	// UpdateScript is copied into every project update started afterwards.
	UpdateScript []engine.OperationStatus

	// TriggerStatus is returned by the project update endpoint. A 202 also
	// records a new project update.
	TriggerStatus int

	mu         sync.Mutex
	nextID     int64
	objects    map[engine.Kind][]Object
	updates    []*update
	membership map[int64][]int64
	failures   []*failure
	requests   []Request
}

var _ awx.Transport = (*Controller)(nil)

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{
		PageSize:      DefaultPageSize,
		UpdateScript:  DefaultUpdateScript,
		TriggerStatus: http.StatusAccepted,
		objects:       make(map[engine.Kind][]Object),
		membership:    make(map[int64][]int64),
	}
}

// FailNext makes the next request matching method and path prefix answer
// with status and body. An empty method matches any method.
func (c *Controller) FailNext(method, prefix string, status int, body string) {
	c.addFailure(&failure{method: method, prefix: prefix, status: status, body: body, remaining: 1})
}

// FailAlways makes every matching request answer with status.
func (c *Controller) FailAlways(method, prefix string, status int, body string) {
	c.addFailure(&failure{method: method, prefix: prefix, status: status, body: body, remaining: -1})
}

// Unreachable makes every matching request fail before reaching the
// controller, as a refused connection would.
func (c *Controller) Unreachable(method, prefix string) {
	c.addFailure(&failure{method: method, prefix: prefix, unreachable: true, remaining: -1})
}

// ClearFailures removes every injected failure.
func (c *Controller) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}

func (c *Controller) addFailure(f *failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

// Requests returns every request received so far.
func (c *Controller) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// CountRequests counts received requests matching method and path prefix.
func (c *Controller) CountRequests(method, prefix string) int {
	n := 0
	for _, r := range c.Requests() {
		if (method == "" || r.Method == method) && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// Seed stores an object of kind directly and returns its id. fields are
// copied; "id" is assigned.
func (c *Controller) Seed(kind engine.Kind, fields map[string]interface{}) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(kind, fields).ID()
}

// SeedProjectUpdate records a project update with a fixed status.
func (c *Controller) SeedProjectUpdate(projectID int64, status engine.OperationStatus) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	obj := Object{"id": c.nextID, "project": projectID, "status": string(status)}
	c.updates = append(c.updates, &update{object: obj, script: []engine.OperationStatus{status}})
	return c.nextID
}

// Objects returns a copy of the stored objects of kind in creation order.
func (c *Controller) Objects(kind engine.Kind) []Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Object, 0, len(c.objects[kind]))
	for _, o := range c.objects[kind] {
		out = append(out, copyObject(o))
	}
	return out
}

// Find returns the first object of kind named name.
func (c *Controller) Find(kind engine.Kind, name string) (Object, bool) {
	for _, o := range c.Objects(kind) {
		if o.Name() == name {
			return o, true
		}
	}
	return nil, false
}

// GroupHosts returns the host ids linked to a group.
func (c *Controller) GroupHosts(groupID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.membership[groupID]...)
}

// ProjectUpdates returns the ids of updates recorded for a project.
func (c *Controller) ProjectUpdates(projectID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for _, u := range c.updates {
		if toInt64(u.object["project"]) == projectID {
			ids = append(ids, u.object.ID())
		}
	}
	return ids
}

// Send implements awx.Transport.
func (c *Controller) Send(ctx context.Context, method, path string, body any) (*awx.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &engine.TransportError{Op: "send", Method: method, Path: path, Err: err}
	}

	payload, err := roundTrip(body)
	if err != nil {
		return nil, &engine.TransportError{Op: "encode", Method: method, Path: path, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, Request{Method: method, Path: path, Body: payload})

	if f := c.matchFailure(method, path); f != nil {
		if f.unreachable {
			return nil, &engine.TransportError{Op: "send", Method: method, Path: path, Err: errors.New("connection refused")}
		}
		return &awx.Response{Status: f.status, Body: []byte(f.body)}, nil
	}

	u, err := url.Parse(path)
	if err != nil {
		return respond(http.StatusBadRequest, apiError(err.Error()))
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(u.Path, "/api/v2"), "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "project_updates" && method == http.MethodGet:
		c.advanceUpdates()
		objs := make([]Object, 0, len(c.updates))
		for _, up := range c.updates {
			objs = append(objs, up.object)
		}
		return c.list(u, objs)

	case len(segments) == 1 && method == http.MethodGet:
		kind, ok := collections[segments[0]]
		if !ok {
			return respond(http.StatusNotFound, apiError("not found"))
		}
		return c.list(u, c.objects[kind])

	case len(segments) == 1 && method == http.MethodPost:
		kind, ok := collections[segments[0]]
		if !ok {
			return respond(http.StatusNotFound, apiError("not found"))
		}
		return c.create(kind, payload)

	case len(segments) == 2 && method == http.MethodDelete:
		kind, ok := collections[segments[0]]
		id, err := strconv.ParseInt(segments[1], 10, 64)
		if !ok || err != nil {
			return respond(http.StatusNotFound, apiError("not found"))
		}
		return c.delete(kind, id)

	case len(segments) == 3 && segments[0] == "inventories" && method == http.MethodGet:
		id, _ := strconv.ParseInt(segments[1], 10, 64)
		if c.get(engine.KindInventory, id) == nil {
			return respond(http.StatusNotFound, apiError("not found"))
		}
		kind, ok := collections[segments[2]]
		if !ok || !kind.InventoryScoped() {
			return respond(http.StatusNotFound, apiError("not found"))
		}
		var objs []Object
		for _, o := range c.objects[kind] {
			if toInt64(o["inventory"]) == id {
				objs = append(objs, o)
			}
		}
		return c.list(u, objs)

	case len(segments) == 3 && segments[0] == "groups" && segments[2] == "hosts" && method == http.MethodPost:
		groupID, _ := strconv.ParseInt(segments[1], 10, 64)
		return c.associate(groupID, toInt64(payload["id"]))

	case len(segments) == 3 && segments[0] == "projects" && segments[2] == "update" && method == http.MethodPost:
		projectID, _ := strconv.ParseInt(segments[1], 10, 64)
		return c.startUpdate(projectID)
	}

	return respond(http.StatusMethodNotAllowed, apiError(fmt.Sprintf("%s %s not supported", method, u.Path)))
}

func (c *Controller) matchFailure(method, path string) *failure {
	for i, f := range c.failures {
		if f.method != "" && f.method != method {
			continue
		}
		if !strings.HasPrefix(path, f.prefix) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				c.failures = append(c.failures[:i], c.failures[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func (c *Controller) list(u *url.URL, objs []Object) (*awx.Response, error) {
	pageNum := 1
	if p := u.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return respond(http.StatusNotFound, apiError("invalid page"))
		}
		pageNum = n
	}
	size := c.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	start := (pageNum - 1) * size
	if start > len(objs) {
		return respond(http.StatusNotFound, apiError("invalid page"))
	}
	end := start + size
	if end > len(objs) {
		end = len(objs)
	}

	results := make([]Object, 0, end-start)
	results = append(results, objs[start:end]...)

	var next interface{}
	if end < len(objs) {
		next = fmt.Sprintf("%s?page=%d", u.Path, pageNum+1)
	}
	return respond(http.StatusOK, map[string]interface{}{
		"count":    len(objs),
		"next":     next,
		"previous": nil,
		"results":  results,
	})
}

func (c *Controller) create(kind engine.Kind, payload map[string]interface{}) (*awx.Response, error) {
	name, _ := payload["name"].(string)
	if name == "" {
		return respond(http.StatusBadRequest, map[string]interface{}{"name": []string{"This field is required."}})
	}

	switch kind {
	case engine.KindGroup, engine.KindHost:
		inventoryID := toInt64(payload["inventory"])
		if c.get(engine.KindInventory, inventoryID) == nil {
			return respond(http.StatusBadRequest, map[string]interface{}{"inventory": []string{"Invalid pk - object does not exist."}})
		}
		for _, o := range c.objects[kind] {
			if o.Name() == name && toInt64(o["inventory"]) == inventoryID {
				return respond(http.StatusBadRequest, apiError(fmt.Sprintf("%s with this Name and Inventory already exists.", kind)))
			}
		}
	case engine.KindJobTemplate:
		if payload["project"] == nil {
			return respond(http.StatusBadRequest, map[string]interface{}{"project": []string{"This field may not be null."}})
		}
		if c.get(engine.KindProject, toInt64(payload["project"])) == nil {
			return respond(http.StatusBadRequest, map[string]interface{}{"project": []string{"Invalid pk - object does not exist."}})
		}
		if payload["inventory"] != nil && c.get(engine.KindInventory, toInt64(payload["inventory"])) == nil {
			return respond(http.StatusBadRequest, map[string]interface{}{"inventory": []string{"Invalid pk - object does not exist."}})
		}
	default:
		orgID := toInt64(payload["organization"])
		for _, o := range c.objects[kind] {
			if o.Name() == name && toInt64(o["organization"]) == orgID {
				return respond(http.StatusBadRequest, apiError(fmt.Sprintf("%s with this Name and Organization already exists.", kind)))
			}
		}
	}

	obj := c.store(kind, payload)
	return respond(http.StatusCreated, obj)
}

func (c *Controller) store(kind engine.Kind, fields map[string]interface{}) Object {
	c.nextID++
	obj := Object{}
	for k, v := range fields {
		obj[k] = v
	}
	obj["id"] = c.nextID
	c.objects[kind] = append(c.objects[kind], obj)
	return obj
}

func (c *Controller) get(kind engine.Kind, id int64) Object {
	for _, o := range c.objects[kind] {
		if o.ID() == id {
			return o
		}
	}
	return nil
}

func (c *Controller) delete(kind engine.Kind, id int64) (*awx.Response, error) {
	objs := c.objects[kind]
	for i, o := range objs {
		if o.ID() != id {
			continue
		}
		c.objects[kind] = append(objs[:i:i], objs[i+1:]...)
		switch kind {
		case engine.KindInventory:
			for _, child := range []engine.Kind{engine.KindGroup, engine.KindHost} {
				kept := c.objects[child][:0:0]
				for _, o := range c.objects[child] {
					if toInt64(o["inventory"]) != id {
						kept = append(kept, o)
					}
				}
				c.objects[child] = kept
			}
		case engine.KindGroup:
			delete(c.membership, id)
		case engine.KindHost:
			for g, hosts := range c.membership {
				c.membership[g] = removeID(hosts, id)
			}
		}
		return respond(http.StatusNoContent, nil)
	}
	return respond(http.StatusNotFound, apiError("Not found."))
}

func (c *Controller) associate(groupID, hostID int64) (*awx.Response, error) {
	group := c.get(engine.KindGroup, groupID)
	if group == nil {
		return respond(http.StatusNotFound, apiError("Not found."))
	}
	host := c.get(engine.KindHost, hostID)
	if host == nil || toInt64(host["inventory"]) != toInt64(group["inventory"]) {
		return respond(http.StatusBadRequest, apiError("Host does not exist in this inventory."))
	}
	for _, id := range c.membership[groupID] {
		if id == hostID {
			return respond(http.StatusNoContent, nil)
		}
	}
	c.membership[groupID] = append(c.membership[groupID], hostID)
	return respond(http.StatusNoContent, nil)
}

func (c *Controller) startUpdate(projectID int64) (*awx.Response, error) {
	if c.get(engine.KindProject, projectID) == nil {
		return respond(http.StatusNotFound, apiError("Not found."))
	}
	if c.TriggerStatus != http.StatusAccepted {
		return respond(c.TriggerStatus, apiError("project update refused"))
	}

	c.nextID++
	script := append([]engine.OperationStatus(nil), c.UpdateScript...)
	if len(script) == 0 {
		script = DefaultUpdateScript
	}
	obj := Object{"id": c.nextID, "project": projectID, "status": string(script[0])}
	c.updates = append(c.updates, &update{object: obj, script: script})
	return respond(http.StatusAccepted, map[string]interface{}{"project_update": c.nextID})
}

// advanceUpdates moves every update one step along its script. The first
// listing after a trigger shows the first scripted status.
func (c *Controller) advanceUpdates() {
	for _, u := range c.updates {
		if u.step < len(u.script) {
			u.object["status"] = string(u.script[u.step])
			u.step++
		}
	}
}

func respond(status int, v interface{}) (*awx.Response, error) {
	if v == nil {
		return &awx.Response{Status: status}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &awx.Response{Status: status, Body: data}, nil
}

func apiError(detail string) map[string]interface{} {
	return map[string]interface{}{"detail": detail}
}

// roundTrip renders body the way it would arrive over the wire.
func roundTrip(body any) (map[string]interface{}, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyObject(o Object) Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
