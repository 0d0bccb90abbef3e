package main

import (
	"errors"
	"fmt"

	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/session"
	"github.com/kalambet/leadctl/internal/storage"
)

// app bundles the per-invocation session and API client.
type app struct {
	session *session.Session
	api     *leadapi.Client
}

var newApp = func() *app {
	sess := session.New(cfg.Storage.DataDir, cfg.Auth.Token)
	sess.Probe()
	return &app{
		session: sess,
		api:     leadapi.New(cfg.API.BaseURL, sess, cfg.RequestTimeout()),
	}
}

// loggedIn returns an app with a usable token, or the login hint.
func loggedIn() (*app, error) {
	a := newApp()
	if _, err := a.session.Require(); err != nil {
		return nil, err
	}
	return a, nil
}

func openStore() (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}
	return store, nil
}

// explain turns client errors into messages a user can act on.
func explain(err error) error {
	var apiErr *leadapi.APIError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leadapi.ErrUnauthorized):
		return fmt.Errorf("session expired or rejected; run `leadctl auth login`")
	case errors.As(err, &apiErr) && apiErr.Detail != "":
		return errors.New(apiErr.Detail)
	}
	return err
}
