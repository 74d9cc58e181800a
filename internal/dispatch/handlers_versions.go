package dispatch

import (
	"context"
	"encoding/json"
)

func (d *Dispatcher) registerVersions() {
	d.register("get_task_versions", schemaTaskIDOnly, handleGetTaskVersions)
	d.register("get_task_version", "", handleGetTaskVersion)
	d.register("get_latest_task_version", schemaTaskIDOnly, handleGetLatestTaskVersion)
	d.register("diff_task_versions", "", handleDiffTaskVersions)
}

func handleGetTaskVersions(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	versions, err := d.versions.List(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"versions": versions}, nil
}

type getTaskVersionParams struct {
	TaskID int64 `json:"task_id" validate:"required"`
	Number int   `json:"number" validate:"required"`
}

func handleGetTaskVersion(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p getTaskVersionParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	v, err := d.versions.Get(ctx, p.TaskID, p.Number)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"version": v}, nil
}

func handleGetLatestTaskVersion(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p taskIDOnlyParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	v, err := d.versions.Latest(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"version": v}, nil
}

type diffTaskVersionsParams struct {
	TaskID int64 `json:"task_id" validate:"required"`
	V1     int   `json:"v1" validate:"required"`
	V2     int   `json:"v2" validate:"required"`
}

func handleDiffTaskVersions(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p diffTaskVersionsParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	diffs, err := d.versions.Diff(ctx, p.TaskID, p.V1, p.V2)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"diffs": diffs}, nil
}
