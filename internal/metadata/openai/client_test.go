package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Spruked/promethean-echo/internal/metadata"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": `{"description":"润色后的描述","attributes":[{"trait_type":"style","value":"abstract"}]}`,
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	doc, err := client.Generate(context.Background(), metadata.Request{
		Title:       "晨光",
		Description: "一张晨光下的照片",
		Author:      "tester",
		Tags:        []string{"photo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Name != "晨光" || doc.Description != "润色后的描述" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if len(doc.Attributes) != 2 {
		t.Fatalf("expected model attribute plus tag attribute, got %+v", doc.Attributes)
	}
	if doc.Attributes[1].TraitType != "tag" || doc.Attributes[1].Value != "photo" {
		t.Fatalf("tag attribute missing: %+v", doc.Attributes)
	}

	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}

	if captured.Body["model"] == "" {
		t.Fatalf("model field missing in request")
	}
}

func TestGenerateFallsBackToPlainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "not a json reply",
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	doc, err := client.Generate(context.Background(), metadata.Request{Title: "t", Description: "d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Description != "not a json reply" {
		t.Fatalf("expected raw content as description, got %q", doc.Description)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), metadata.Request{Title: "t", Description: "d"}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
