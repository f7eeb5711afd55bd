package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:dataset_writer, k2:bob:dataset_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.OwnerID != "alice" {
		t.Fatalf("OwnerID = %q", identity.OwnerID)
	}
	if !identity.HasRole(RoleDatasetWriter) || !identity.HasRole(RoleDatasetReader) {
		t.Fatalf("roles = %v", identity.Roles)
	}
	reader, _ := validator.Validate(context.Background(), "k2")
	if reader.HasRole(RoleDatasetWriter) {
		t.Fatal("reader should not have writer role")
	}
}

func TestStaticAPIKeyValidatorRejectsMalformedKeys(t *testing.T) {
	for _, raw := range []string{
		"invalid",
		"k1::dataset_reader",
		"k1:alice:",
		"k1:alice:superuser",
		"k1:alice:dataset_reader,k1:bob:dataset_reader",
	} {
		if _, err := NewStaticAPIKeyValidator(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:dataset_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want %d", key, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:dataset_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || identity.OwnerID != "alice" {
			t.Errorf("identity = %+v, ok = %v", identity, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range [][2]string{{"X-API-Key", "k1"}, {"Authorization", "bearer k1"}} {
		req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
		req.Header.Set(header[0], header[1])
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d", header[0], rr.Code)
		}
	}
}

func TestCheckRole(t *testing.T) {
	if err := CheckRole(context.Background(), RoleDatasetWriter); err != nil {
		t.Fatalf("CheckRole() without identity error = %v", err)
	}
	reader := WithIdentity(context.Background(), Identity{OwnerID: "alice", Roles: []string{RoleDatasetReader}})
	if err := CheckRole(reader, RoleDatasetReader); err != nil {
		t.Fatalf("CheckRole(reader) error = %v", err)
	}
	if err := CheckRole(reader, RoleDatasetWriter); !errors.Is(err, ErrForbidden) {
		t.Fatalf("CheckRole(writer) error = %v, want ErrForbidden", err)
	}
}
