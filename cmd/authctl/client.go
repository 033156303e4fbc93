package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paservices.dev/internal/config"
	"paservices.dev/internal/tokencache"
)

func newTokenCache() (*tokencache.Cache, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	return tokencache.New(tokencache.Config{
		BaseURL:      cfg.AuthServiceURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		SafetyMargin: cfg.SafetyMargin(),
		HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
	})
}

func runToken(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlags("token")
	force := fs.Bool("force", false, "bypass the cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cache, err := newTokenCache()
	if err != nil {
		return err
	}
	token, err := cache.Token(ctx, *force)
	if err != nil {
		return err
	}
	refreshAt, _ := cache.Expiry()
	return writeJSON(out, map[string]any{
		"access_token": token,
		"refresh_at":   refreshAt.UTC().Format(time.RFC3339),
	})
}

func runCall(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlags("call")
	method := fs.StringP("method", "X", http.MethodGet, "HTTP method")
	data := fs.StringP("data", "d", "", "JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: authctl call [--method m] [--data d] url")
	}
	target := fs.Arg(0)
	cache, err := newTokenCache()
	if err != nil {
		return err
	}

	resp, err := cache.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if *data != "" {
			body = strings.NewReader(*data)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(*method), target, body)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(out, "HTTP %d\n", resp.StatusCode)
	_, err = io.Copy(out, resp.Body)
	return err
}
