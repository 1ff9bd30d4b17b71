package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteError_ShapesVendorErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, 429, "rate_limit_error", "slow down")

	if rec.Code != 429 {
		t.Fatalf("got status %d", rec.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Type != "error" || body.Error.Type != "rate_limit_error" || body.Error.Message != "slow down" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
