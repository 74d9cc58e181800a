package dispatch

import (
	"context"
	"encoding/json"
)

func (d *Dispatcher) registerProjects() {
	d.register("create_project", "", handleCreateProject)
	d.register("list_projects", "", handleListProjects)
	d.register("get_project", "", handleGetProject)
	d.register("archive_project", "", handleArchiveProject)
}

type createProjectParams struct {
	Name        string `json:"name" validate:"required"`
	LocalPath   string `json:"local_path"`
	OriginURL   string `json:"origin_url"`
	Description string `json:"description"`
}

func handleCreateProject(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p createProjectParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	proj, err := d.life.CreateProject(ctx, p.Name, p.LocalPath, p.OriginURL, p.Description)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"project": proj}, nil
}

func handleListProjects(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	projects, err := d.life.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"projects": projects}, nil
}

type projectIDParams struct {
	ProjectID int64 `json:"project_id" validate:"required"`
}

func handleGetProject(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p projectIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	proj, err := d.life.GetProject(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"project": proj}, nil
}

func handleArchiveProject(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error) {
	var p projectIDParams
	if err := d.decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.life.ArchiveProject(ctx, p.ProjectID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"project_id": p.ProjectID}, nil
}
