package remote_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gitlab.com/grit-scm/grit/internal/git/remote"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/main", ObjectID: oid('a')},
	})
	env.configureOrigin(t, "https://example.org/r.git")
	env.repo.Metrics = remote.NewMetrics()

	r := env.lookupOrigin(t)
	require.NoError(t, r.Fetch(nil, nil, ""))

	require.NoError(t, testutil.CollectAndCompare(env.repo.Metrics, strings.NewReader(`
# HELP grit_remote_operations_total Counter of remote fetch and push operations by outcome
# TYPE grit_remote_operations_total counter
grit_remote_operations_total{operation="fetch",status="success"} 1
`), "grit_remote_operations_total"))

	require.NoError(t, testutil.CollectAndCompare(env.repo.Metrics, strings.NewReader(`
# HELP grit_remote_received_objects Objects received during the most recent pack transfer
# TYPE grit_remote_received_objects gauge
grit_remote_received_objects 1
`), "grit_remote_received_objects"))
}
