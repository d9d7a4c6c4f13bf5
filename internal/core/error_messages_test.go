package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "rejected credentials",
			err:      &AuthError{URL: "http://qa/", Rejected: true, Err: errors.New("login form returned")},
			wantCode: "AUTH001",
		},
		{
			name:     "unreachable server",
			err:      &AuthError{URL: "http://qa/", Err: errors.New("dial tcp: connection refused")},
			wantCode: "AUTH002",
		},
		{
			name:     "missing source file",
			err:      &SourceError{Err: errors.New("open daily.xlsx: no such file or directory")},
			wantCode: "SRC001",
		},
		{
			name:     "source read failure",
			err:      &SourceError{Ref: "20150102", Err: errors.New("conn closed")},
			wantCode: "SRC002",
		},
		{
			name:     "mapping error",
			err:      &MappingError{Ref: "Row 57", Field: "column 4", Err: errors.New(`"abc" is not a number`)},
			wantCode: "MAP001",
		},
		{
			name:     "server side rejection",
			err:      &SubmitError{TargetID: "1", Rejected: true, Err: errors.New("errorlist")},
			wantCode: "SUB001",
		},
		{
			name:     "http status failure",
			err:      &SubmitError{TargetID: "1", Status: 500, Err: errors.New("internal server error")},
			wantCode: "SUB002",
		},
		{
			name:     "wrapped busy target",
			err:      fmt.Errorf("start run: %w", ErrTargetBusy),
			wantCode: "RUN001",
		},
		{
			name:     "cancelled run",
			err:      context.Canceled,
			wantCode: "RUN005",
		},
		{
			name:     "bad date cursor",
			err:      errors.New(`invalid date cursor "2015-13-01"`),
			wantCode: "CFG001",
		},
		{
			name:     "unknown error falls back",
			err:      errors.New("something strange"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := fmt.Errorf("run: %w", ErrTargetBusy)
	want := "An import is already running for this target (Code: RUN001). Wait for it to finish or cancel it"
	if got := FormatUserError(err); got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(ErrRunNotFound) {
		t.Error("IsUserFacing(ErrRunNotFound) = false")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("IsUserFacing(boom) = true")
	}
}

func TestUserErrorUnwrap(t *testing.T) {
	src := &MappingError{Ref: "Row 3", Field: "column 2", Err: errors.New("bad")}
	ue := NewUserError(src)
	if ue.User.Code != "MAP001" {
		t.Errorf("code = %q, want MAP001", ue.User.Code)
	}
	var me *MappingError
	if !errors.As(ue, &me) {
		t.Fatal("errors.As did not find MappingError through UserError")
	}
	if me.Ref != "Row 3" {
		t.Errorf("Ref = %q, want Row 3", me.Ref)
	}
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) != nil")
	}
}
