package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"qazna.org/permgate/internal/registry"
)

// CreateApplication registers an application. A taken name yields ErrConflict.
func (c *Client) CreateApplication(ctx context.Context, session string, in registry.NewApplication) (registry.Application, error) {
	var app registry.Application
	if err := c.withSession(ctx, session, http.MethodPost, "/api/applications", in, &app); err != nil {
		return registry.Application{}, err
	}
	return app, nil
}

func (c *Client) Application(ctx context.Context, session string, id int64) (registry.Application, error) {
	var app registry.Application
	if err := c.withSession(ctx, session, http.MethodGet, "/api/applications/"+strconv.FormatInt(id, 10), nil, &app); err != nil {
		return registry.Application{}, err
	}
	return app, nil
}

func (c *Client) Applications(ctx context.Context, session string) ([]registry.Application, error) {
	var apps []registry.Application
	if err := c.withSession(ctx, session, http.MethodGet, "/api/applications", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// RecordError reports an error on behalf of an application.
func (c *Client) RecordError(ctx context.Context, session string, in registry.NewErrorLog) (registry.ErrorLog, error) {
	var entry registry.ErrorLog
	if err := c.withSession(ctx, session, http.MethodPost, "/api/errorlogs", in, &entry); err != nil {
		return registry.ErrorLog{}, err
	}
	return entry, nil
}

// ErrorLogs lists error logs, newest first. Zero filter fields are omitted.
func (c *Client) ErrorLogs(ctx context.Context, session string, filter registry.ErrorLogFilter) ([]registry.ErrorLog, error) {
	q := url.Values{}
	if filter.ApplicationID > 0 {
		q.Set("applicationId", strconv.FormatInt(filter.ApplicationID, 10))
	}
	if filter.Severity != "" {
		q.Set("severity", filter.Severity)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/errorlogs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var logs []registry.ErrorLog
	if err := c.withSession(ctx, session, http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
