package apierror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_Transient(t *testing.T) {
	tests := []struct {
		name     string
		class    ErrorClass
		expected bool
	}{
		{name: "client error should not retry", class: ClassClient, expected: false},
		{name: "server error should retry", class: ClassServer, expected: true},
		{name: "network error should retry", class: ClassNetwork, expected: true},
		{name: "internal error should not retry", class: ClassInternal, expected: false},
		{name: "empty class should not retry", class: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.class.Transient(); got != tt.expected {
				t.Errorf("Transient(%q) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ClassClient},
		{404, ClassClient},
		{429, ClassClient},
		{500, ClassServer},
		{503, ClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := ClassifyStatus(tt.status); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "detail only",
			err:      New("Cannot find a Post with id 7", TitleNotFound, 404),
			expected: "Cannot find a Post with id 7",
		},
		{
			name:     "detail wins over cause",
			err:      Wrap("Failed to fetch posts", TitleExternalService, 500, errors.New("dial tcp")),
			expected: "Failed to fetch posts",
		},
		{
			name:     "cause used when detail empty",
			err:      &Error{Err: errors.New("boom")},
			expected: "boom",
		},
		{
			name:     "empty",
			err:      &Error{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Wrap("Failed to fetch posts", TitleExternalService, 500, cause)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var target *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &target) {
		t.Fatal("errors.As should find *Error through wrapping")
	}
	if target.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", target.StatusCode)
	}
}

func TestWrap_Class(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  ErrorClass
	}{
		{
			name:  "class from status code when cause is plain",
			cause: errors.New("boom"),
			want:  ClassServer,
		},
		{
			name:  "class inherited from inner error",
			cause: &Error{Class: ClassNetwork},
			want:  ClassNetwork,
		},
		{
			name:  "class from upstream status",
			cause: &StatusError{StatusCode: 404, Status: "404 Not Found"},
			want:  ClassClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap("detail", TitleExternalService, 500, tt.cause)
			if err.Class != tt.want {
				t.Errorf("Class = %q, want %q", err.Class, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("x"), want: false},
		{name: "network", err: &Error{Class: ClassNetwork}, want: true},
		{name: "not found", err: New("missing", TitleNotFound, 404), want: false},
		{name: "wrapped server", err: fmt.Errorf("op: %w", New("down", TitleExternalService, 502)), want: true},
		{name: "raw 503", err: &StatusError{StatusCode: 503}, want: true},
		{name: "raw 400", err: &StatusError{StatusCode: 400}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(&StatusError{StatusCode: 502}); got != ClassServer {
		t.Errorf("ClassOf(502) = %q, want %q", got, ClassServer)
	}
	if got := ClassOf(errors.New("x")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
}
