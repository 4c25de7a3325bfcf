package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "config.invalid", "token must contain '|'")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Error ErrorPayload `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Error.Code != "config.invalid" || body.Error.Message == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = httptest.NewRecorder()
	WriteError(rec, http.StatusInternalServerError, "", "x")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code != "Internal Server Error" {
		t.Fatalf("default code: %v %+v", err, body)
	}
}

func TestMetaRefresh(t *testing.T) {
	got := MetaRefresh(20, "http://10.0.0.2:8069/list_drivers")
	want := "<meta http-equiv='refresh' content='20; url=http://10.0.0.2:8069/list_drivers'>"
	if got != want {
		t.Fatalf("got %q", got)
	}
}
