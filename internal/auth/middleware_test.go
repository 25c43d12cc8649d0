package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/observability"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:ask_writer|ask_reader|ASK_WRITER, k2:t2:build_admin")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.TenantID != "t1" {
		t.Fatalf("TenantID = %q", identity.TenantID)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != RoleAskReader || identity.Roles[1] != RoleAskWriter {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key validated")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpecs(t *testing.T) {
	tests := []string{
		"invalid",
		":t1:ask_reader",
		"k1:t1:",
		"k1:t1:superuser",
		"k1:t1:ask_reader,k1:t2:ask_writer",
	}
	for _, spec := range tests {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected error", spec)
		}
	}
}

func TestWriterImpliesReader(t *testing.T) {
	writer := Identity{TenantID: "t1", Roles: []string{RoleAskWriter}}
	if !writer.HasRole(RoleAskReader) {
		t.Fatal("ask_writer should imply ask_reader")
	}
	reader := Identity{TenantID: "t1", Roles: []string{RoleAskReader}}
	if reader.HasRole(RoleAskWriter) {
		t.Fatal("ask_reader must not imply ask_writer")
	}
	if reader.HasAnyRole(RoleBuildAdmin) {
		t.Fatal("did not expect build_admin to match")
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(context.Background(), RoleBuildAdmin); err != nil {
		t.Fatalf("Authorize() without identity error = %v", err)
	}
	ctx := WithIdentity(context.Background(), Identity{TenantID: "t1", Roles: []string{RoleAskReader}})
	if err := Authorize(ctx, RoleAskReader, RoleBuildAdmin); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if err := Authorize(ctx, RoleAskWriter); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Authorize() error = %v, want ErrForbidden", err)
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:ask_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(observability.NewTestLogger(t), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []string{"", "Basic k1", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("Authorization %q: status = %d, want %d", header, rr.Code, http.StatusUnauthorized)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Fatal("expected WWW-Authenticate header")
		}
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:ask_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.TenantID != "t1" {
			t.Fatalf("TenantID = %q", identity.TenantID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", "k1") },
		func(r *http.Request) { r.Header.Set("Authorization", "bearer k1") },
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
		set(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}
