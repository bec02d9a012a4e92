package http_test

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/fyrsmithlabs/knowledged/internal/client"
	httpserver "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
)

// statusOnly answers Status and leaves every other operation nil.
type statusOnly struct{ httpserver.Service }

func (statusOnly) Status(_ context.Context, tenantID string) (*orchestrator.Status, error) {
	return &orchestrator.Status{TenantID: tenantID, Namespace: "kb_acme_dental", Exists: true, VectorCount: 42}, nil
}

type noRows struct{ httpserver.Rows }

// ExampleServer mounts the API on a test listener and reads a tenant's
// status through the client package.
func ExampleServer() {
	server, err := httpserver.NewServer(statusOnly{}, noRows{}, logging.NewNop(), &httpserver.Config{})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	c := client.New(ts.URL)
	if err := c.Health(context.Background()); err != nil {
		panic(err)
	}
	st, err := c.Status(context.Background(), "acme-dental")
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s: %d vectors in %s\n", st.TenantID, st.VectorCount, st.Namespace)
	// Output: acme-dental: 42 vectors in kb_acme_dental
}
