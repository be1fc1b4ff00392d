package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

func TestErrorKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		kind ErrorKind
		want int
	}{
		{"订单类型错误", KindInvalidOrderType, consts.StatusBadRequest},
		{"金额错误", KindInvalidAmount, consts.StatusBadRequest},
		{"套餐规格错误", KindInvalidPackSize, consts.StatusBadRequest},
		{"缺少咨询ID", KindMissingConsultationID, consts.StatusBadRequest},
		{"咨询不存在", KindConsultationNotFound, consts.StatusNotFound},
		{"非本人资源", KindNotOwner, consts.StatusForbidden},
		{"订单不存在", KindNotFound, consts.StatusNotFound},
		{"状态不允许", KindInvalidState, consts.StatusConflict},
		{"余额不足", KindInsufficientBalance, consts.StatusPaymentRequired},
		{"暂时不可用", KindTransient, consts.StatusServiceUnavailable},
		{"内部错误", KindInternal, consts.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWrapError_PaymentError(t *testing.T) {
	err := fmt.Errorf("create order: %w", NewPaymentError(KindNotOwner, "consultation %d belongs to another user", 7))
	apiErr := WrapError(err)
	if apiErr.Code != consts.StatusForbidden {
		t.Errorf("Code = %d, want 403", apiErr.Code)
	}
	if apiErr.Kind != "not_owner" {
		t.Errorf("Kind = %q, want not_owner", apiErr.Kind)
	}
	if !IsKind(err, KindNotOwner) {
		t.Error("IsKind() should see through wrapping")
	}
}

func TestWrapError_DoesNotMutatePredefined(t *testing.T) {
	_ = ErrUnauthorized.WithDetails("leaked")
	if ErrUnauthorized.Details != "" {
		t.Errorf("predefined error mutated: %q", ErrUnauthorized.Details)
	}
	wrapped := WrapError(ErrNotFound)
	wrapped.ErrorID = "x"
	if ErrNotFound.ErrorID != "" {
		t.Error("WrapError returned the shared instance")
	}
}

func TestSendError_ErrorID(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   int
		preset string
	}{
		{"预定义错误", ErrNotFound, consts.StatusNotFound, ""},
		{"业务错误", NewPaymentError(KindInvalidState, "order is paid"), consts.StatusConflict, ""},
		{"已有错误ID", ErrNotFound.WithErrorID("ERR-fixed"), consts.StatusNotFound, "ERR-fixed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := app.NewContext(0)
			SendError(c, tt.err)
			if got := c.Response.StatusCode(); got != tt.want {
				t.Fatalf("status = %d, want %d", got, tt.want)
			}
			var body APIError
			if err := json.Unmarshal(c.Response.Body(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			switch {
			case tt.preset != "" && body.ErrorID != tt.preset:
				t.Errorf("error_id = %q, want %q", body.ErrorID, tt.preset)
			case tt.preset == "" && !strings.HasPrefix(body.ErrorID, "ERR-"):
				t.Errorf("error_id = %q, want generated ERR- id", body.ErrorID)
			}
			if ErrNotFound.ErrorID != "" {
				t.Errorf("predefined error mutated: %q", ErrNotFound.ErrorID)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("redis: connection refused")
	err := Transient(base, "lock order %s", "ORD1")
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Error("Transient should unwrap to the cause")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors are internal")
	}
}
