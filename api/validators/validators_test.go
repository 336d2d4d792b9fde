package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type lineInput struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type sampleRequest struct {
	Gateway string      `json:"gateway" validate:"required,gateway"`
	Items   []lineInput `json:"items" validate:"required,min=1,dive"`
}

type optionalRequest struct {
	Reason string `json:"reason" validate:"max=5"`
}

func request(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func validationDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := typed.Details().(map[string]string)
	return details
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var dest sampleRequest
	if err := DecodeJSONBody(request(`{"gateway":"Square","items":[{"quantity":2}]}`), &dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest.Items[0].Quantity != 2 {
		t.Fatalf("unexpected decode %+v", dest)
	}
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	var dest sampleRequest
	err := DecodeJSONBody(request(`{"gateway":"razorpay","items":[{"quantity":0}]}`), &dest)
	details := validationDetails(t, err)
	if details["gateway"] != "is not a supported payment gateway" {
		t.Fatalf("expected gateway detail, got %v", details)
	}
	if _, ok := details["items[0].quantity"]; !ok {
		t.Fatalf("expected nested quantity detail, got %v", details)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndUnknownFields(t *testing.T) {
	var dest sampleRequest
	if err := DecodeJSONBody(request(""), &dest); pkgerrors.As(err) == nil {
		t.Fatalf("expected empty body to fail")
	}
	if err := DecodeJSONBody(request(`{"gateway":"stripe","items":[{"quantity":1}],"extra":1}`), &dest); pkgerrors.As(err) == nil {
		t.Fatalf("expected unknown field to fail")
	}
	if err := DecodeJSONBody(request(`{"gateway":"stripe","items":[{"quantity":1}]}{}`), &dest); pkgerrors.As(err) == nil {
		t.Fatalf("expected trailing document to fail")
	}
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	var dest optionalRequest
	if err := DecodeOptionalJSONBody(request(""), &dest); err != nil {
		t.Fatalf("empty optional body should pass: %v", err)
	}
	if err := DecodeOptionalJSONBody(request(`{"reason":"too long"}`), &dest); pkgerrors.As(err) == nil {
		t.Fatalf("expected max length to be enforced")
	}
}
