package openapi

import "testing"

func TestLoad(t *testing.T) {
	doc, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, path := range []string{
		"/api/v1/batches/{id}/mint",
		"/api/v1/transactions/submit",
		"/api/v1/verify/{batchIdOrFingerprint}",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("путь %s отсутствует в описании", path)
		}
	}
}
