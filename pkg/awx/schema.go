package awx

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// API paths, relative to the controller base URL.
const (
	apiRoot              = "/api/v2/"
	pathInventories      = apiRoot + "inventories/"
	pathGroups           = apiRoot + "groups/"
	pathHosts            = apiRoot + "hosts/"
	pathProjects         = apiRoot + "projects/"
	pathJobTemplates     = apiRoot + "job_templates/"
	pathProjectUpdates   = apiRoot + "project_updates/"
	fieldOrganization    = "organization"
	fieldInventory       = "inventory"
	maxPagesPerListing   = 1000
	projectUpdateStarted = 202
)

// collectionPath returns the list/create endpoint of a kind.
func collectionPath(kind engine.Kind) (string, error) {
	switch kind {
	case engine.KindInventory:
		return pathInventories, nil
	case engine.KindGroup:
		return pathGroups, nil
	case engine.KindHost:
		return pathHosts, nil
	case engine.KindProject:
		return pathProjects, nil
	case engine.KindJobTemplate:
		return pathJobTemplates, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", kind)
	}
}

// scopeField is the create-payload field carrying the scope id. Job
// templates are scoped through their project and inventory instead.
func scopeField(kind engine.Kind) string {
	switch kind {
	case engine.KindInventory, engine.KindProject:
		return fieldOrganization
	case engine.KindGroup, engine.KindHost:
		return fieldInventory
	default:
		return ""
	}
}

// page is one page of a list endpoint.
type page struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results" validate:"required"`
}

type inventoryWire struct {
	ID           int64  `json:"id" validate:"required,gt=0"`
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description"`
	Organization *int64 `json:"organization"`
}

type groupWire struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	Name      string `json:"name" validate:"required"`
	Inventory int64  `json:"inventory" validate:"required,gt=0"`
}

type hostWire struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	Name      string `json:"name" validate:"required"`
	Inventory int64  `json:"inventory" validate:"required,gt=0"`
	Variables string `json:"variables"`
	Enabled   *bool  `json:"enabled"`
}

type projectWire struct {
	ID           int64  `json:"id" validate:"required,gt=0"`
	Name         string `json:"name" validate:"required"`
	Organization *int64 `json:"organization"`
	ScmType      string `json:"scm_type"`
	ScmURL       string `json:"scm_url"`
	ScmBranch    string `json:"scm_branch"`
	Status       string `json:"status"`
}

type jobTemplateWire struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	Name      string `json:"name" validate:"required"`
	Project   *int64 `json:"project"`
	Inventory *int64 `json:"inventory"`
	Playbook  string `json:"playbook"`
}

type projectUpdateWire struct {
	ID      int64  `json:"id" validate:"required,gt=0"`
	Project int64  `json:"project" validate:"required,gt=0"`
	Status  string `json:"status" validate:"required"`
}

// decoder turns raw list items and create responses into engine records.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New()}
}

// check validates a decoded wire struct, reporting the first offending field.
func (d *decoder) check(kind engine.Kind, v interface{}) error {
	if err := d.validate.Struct(v); err != nil {
		field := ""
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		return &engine.DecodingError{Kind: kind, Field: field, Err: err}
	}
	return nil
}

func (d *decoder) unmarshal(kind engine.Kind, raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		field := ""
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		return &engine.DecodingError{Kind: kind, Field: field, Err: err}
	}
	return d.check(kind, v)
}

// record decodes one resource of kind.
func (d *decoder) record(kind engine.Kind, raw []byte) (engine.ResourceRecord, error) {
	record := engine.ResourceRecord{Kind: kind}

	switch kind {
	case engine.KindInventory:
		var w inventoryWire
		if err := d.unmarshal(kind, raw, &w); err != nil {
			return record, err
		}
		record.ID, record.Name, record.Scope = w.ID, w.Name, deref(w.Organization)
	case engine.KindGroup:
		var w groupWire
		if err := d.unmarshal(kind, raw, &w); err != nil {
			return record, err
		}
		record.ID, record.Name, record.Scope = w.ID, w.Name, w.Inventory
		record.DependsOn = []int64{w.Inventory}
	case engine.KindHost:
		var w hostWire
		if err := d.unmarshal(kind, raw, &w); err != nil {
			return record, err
		}
		record.ID, record.Name, record.Scope = w.ID, w.Name, w.Inventory
		record.DependsOn = []int64{w.Inventory}
	case engine.KindProject:
		var w projectWire
		if err := d.unmarshal(kind, raw, &w); err != nil {
			return record, err
		}
		record.ID, record.Name, record.Scope = w.ID, w.Name, deref(w.Organization)
	case engine.KindJobTemplate:
		var w jobTemplateWire
		if err := d.unmarshal(kind, raw, &w); err != nil {
			return record, err
		}
		record.ID, record.Name = w.ID, w.Name
		for _, dep := range []*int64{w.Project, w.Inventory} {
			if dep != nil {
				record.DependsOn = append(record.DependsOn, *dep)
			}
		}
	default:
		return record, &engine.DecodingError{Kind: kind, Err: fmt.Errorf("unknown resource kind")}
	}

	var attrs map[string]interface{}
	if err := json.Unmarshal(raw, &attrs); err == nil {
		record.Attributes = attrs
	}
	return record, nil
}

func (d *decoder) projectUpdate(raw []byte) (engine.AsyncOperation, error) {
	var w projectUpdateWire
	if err := d.unmarshal(engine.KindProject, raw, &w); err != nil {
		return engine.AsyncOperation{}, err
	}
	return engine.AsyncOperation{
		ID:              w.ID,
		ParentProjectID: w.Project,
		Status:          engine.OperationStatus(w.Status),
	}, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return engine.NoScope
	}
	return *v
}
