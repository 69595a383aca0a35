package allocator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateSessionSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/create" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"s1","server_address":"10.0.0.1:7777"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	session, err := client.CreateSession(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ServerAddress != "10.0.0.1:7777" {
		t.Errorf("unexpected server address: %s", session.ServerAddress)
	}
}

func TestCreateSessionHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.CreateSession(context.Background(), []string{"p1"})
	if err == nil {
		t.Fatal("expected error")
	}
	f, ok := err.(*Failure)
	if !ok {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if f.Kind != FailureHTTPError || f.Code != http.StatusInternalServerError {
		t.Errorf("unexpected failure: %+v", f)
	}
}

func TestCreateSessionTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Millisecond)
	_, err := client.CreateSession(context.Background(), []string{"p1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	f, ok := err.(*Failure)
	if !ok || f.Kind != FailureHTTPTimeout {
		t.Errorf("expected FailureHTTPTimeout, got %+v", err)
	}
}

func TestCreateSessionResponseParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.CreateSession(context.Background(), []string{"p1"})
	if err == nil {
		t.Fatal("expected error")
	}
	f, ok := err.(*Failure)
	if !ok || f.Kind != FailureResponseParse {
		t.Errorf("expected FailureResponseParse, got %+v", err)
	}
}
