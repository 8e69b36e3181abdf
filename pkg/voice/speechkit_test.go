package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribe_HappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Api-Key test-key" {
			t.Errorf("expected Api-Key auth header, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/ogg" {
			t.Errorf("expected application/ogg content-type, got %q", got)
		}
		if got := r.URL.Query().Get("folderId"); got != "folder-1" {
			t.Errorf("expected folderId=folder-1, got %q", got)
		}
		w.Write([]byte(`{"result":"hello there"}`))
	}))
	defer server.Close()

	transcriber := New("test-key", "folder-1", "en-US")
	transcriber.httpClient = server.Client()
	transcriber.recognizeURL = server.URL

	text, err := transcriber.Transcribe(context.Background(), []byte("fake-ogg-bytes"))
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", text)
	}
}

func TestTranscribe_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	transcriber := New("bad-key", "folder-1", "")
	transcriber.httpClient = server.Client()
	transcriber.recognizeURL = server.URL

	_, err := transcriber.Transcribe(context.Background(), []byte("fake-ogg-bytes"))
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestTranscribe_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":""}`))
	}))
	defer server.Close()

	transcriber := New("test-key", "folder-1", "")
	transcriber.httpClient = server.Client()
	transcriber.recognizeURL = server.URL

	text, err := transcriber.Transcribe(context.Background(), []byte("fake-ogg-bytes"))
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty recognized text, got %q", text)
	}
}

func TestNew_DefaultsLang(t *testing.T) {
	transcriber := New("key", "folder", "")
	if transcriber.lang != "ru-RU" {
		t.Fatalf("expected default lang ru-RU, got %q", transcriber.lang)
	}
}
