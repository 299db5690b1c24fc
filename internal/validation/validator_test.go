// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package validation

import (
	"strings"
	"testing"
)

// ===================================================================================================
// Singleton Validator Tests
// ===================================================================================================

func TestGetValidator_Singleton(t *testing.T) {
	// Test that GetValidator returns the same instance
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}

	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

// ===================================================================================================
// ValidateStruct Tests
// ===================================================================================================

// authorizeRequest mirrors the request shape the API layer validates.
type authorizeRequest struct {
	SubjectID    string `validate:"required,uuid"`
	ResourceType string `validate:"required,resource_type"`
	ResourceID   string `validate:"required,uuid"`
	Operation    string `validate:"required,operation"`
	SessionToken string `validate:"omitempty,max=4096"`
	ClientIP     string `validate:"omitempty,client_ip"`
	UserAgent    string `validate:"omitempty,max=512"`
}

func validRequest() authorizeRequest {
	return authorizeRequest{
		SubjectID:    "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		ResourceType: "generation",
		ResourceID:   "9b2edf8c-8b4a-4bd4-94b7-bba33e9ead95",
		Operation:    "read",
		ClientIP:     "203.0.113.7",
		UserAgent:    "claviger-client/1.0",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*authorizeRequest)
	}{
		{
			name:   "all fields populated",
			mutate: func(r *authorizeRequest) {},
		},
		{
			name: "optional fields absent",
			mutate: func(r *authorizeRequest) {
				r.SessionToken = ""
				r.ClientIP = ""
				r.UserAgent = ""
			},
		},
		{
			name: "ipv6 client",
			mutate: func(r *authorizeRequest) {
				r.ClientIP = "2001:db8::1"
			},
		},
		{
			name: "every resource type",
			mutate: func(r *authorizeRequest) {
				r.ResourceType = "media"
				r.Operation = "share"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			if err := ValidateStruct(&req); err != nil {
				t.Errorf("ValidateStruct() returned unexpected error: %v", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*authorizeRequest)
		wantField string
		wantTag   string
	}{
		{
			name:      "missing subject",
			mutate:    func(r *authorizeRequest) { r.SubjectID = "" },
			wantField: "SubjectID",
			wantTag:   "required",
		},
		{
			name:      "subject not a uuid",
			mutate:    func(r *authorizeRequest) { r.SubjectID = "user-42" },
			wantField: "SubjectID",
			wantTag:   "uuid",
		},
		{
			name:      "unknown resource type",
			mutate:    func(r *authorizeRequest) { r.ResourceType = "document" },
			wantField: "ResourceType",
			wantTag:   "resource_type",
		},
		{
			name:      "unknown operation",
			mutate:    func(r *authorizeRequest) { r.Operation = "execute" },
			wantField: "Operation",
			wantTag:   "operation",
		},
		{
			name:      "operation wrong case",
			mutate:    func(r *authorizeRequest) { r.Operation = "READ" },
			wantField: "Operation",
			wantTag:   "operation",
		},
		{
			name:      "bogus client ip",
			mutate:    func(r *authorizeRequest) { r.ClientIP = "999.0.0.1" },
			wantField: "ClientIP",
			wantTag:   "client_ip",
		},
		{
			name:      "oversized user agent",
			mutate:    func(r *authorizeRequest) { r.UserAgent = strings.Repeat("x", 513) },
			wantField: "UserAgent",
			wantTag:   "max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := ValidateStruct(&req)
			if err == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}

			found := false
			for _, fe := range err.Errors() {
				if fe.Field() == tt.wantField && fe.Tag() == tt.wantTag {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s tag %s, got: %v", tt.wantField, tt.wantTag, err)
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	req := authorizeRequest{}

	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("ValidateStruct() should have returned an error")
	}
	if len(err.Errors()) < 4 {
		t.Errorf("expected at least 4 field errors, got %d", len(err.Errors()))
	}
	if !strings.Contains(err.Error(), ";") {
		t.Errorf("combined message should join errors: %q", err.Error())
	}
}

// ===================================================================================================
// ToAPIError Tests
// ===================================================================================================

func TestToAPIError_SingleError(t *testing.T) {
	req := validRequest()
	req.ResourceType = "folder"

	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("ValidateStruct() should have returned an error")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "generation, project, team, media") {
		t.Errorf("Message should list allowed resource types, got %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "ResourceType" {
		t.Errorf("Details field = %v, want ResourceType", apiErr.Details["field"])
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	req := validRequest()
	req.SubjectID = ""
	req.Operation = "browse"

	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("ValidateStruct() should have returned an error")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}

	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Details fields has unexpected type %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("expected 2 field entries, got %d", len(fields))
	}
}

func TestToAPIError_Empty(t *testing.T) {
	ve := &RequestValidationError{}
	apiErr := ve.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" || apiErr.Message != "Validation failed" {
		t.Errorf("empty error set should produce generic message, got %+v", apiErr)
	}
	if ve.Error() != "validation failed" {
		t.Errorf("Error() = %q, want %q", ve.Error(), "validation failed")
	}
}

// ===================================================================================================
// Message Translation Tests
// ===================================================================================================

func TestTranslateError_Messages(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*authorizeRequest)
		wantMsg string
	}{
		{
			name:    "required message",
			mutate:  func(r *authorizeRequest) { r.ResourceID = "" },
			wantMsg: "ResourceID is required",
		},
		{
			name:    "uuid message",
			mutate:  func(r *authorizeRequest) { r.ResourceID = "not-a-uuid" },
			wantMsg: "ResourceID must be a valid UUID",
		},
		{
			name:    "operation message",
			mutate:  func(r *authorizeRequest) { r.Operation = "exec" },
			wantMsg: "Operation must be one of: read, write, delete, share",
		},
		{
			name:    "client ip message",
			mutate:  func(r *authorizeRequest) { r.ClientIP = "localhost" },
			wantMsg: "ClientIP must be a valid IP address",
		},
		{
			name:    "max string message",
			mutate:  func(r *authorizeRequest) { r.UserAgent = strings.Repeat("y", 600) },
			wantMsg: "UserAgent must be at most 512 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := ValidateStruct(&req)
			if err == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

// ===================================================================================================
// Concurrency Tests
// ===================================================================================================

func TestValidateStruct_Concurrent(t *testing.T) {
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- true }()
			for j := 0; j < 100; j++ {
				req := validRequest()
				if err := ValidateStruct(&req); err != nil {
					t.Errorf("concurrent ValidateStruct() error: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
