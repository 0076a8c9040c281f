package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/deploy"
)

func TestDispatchUnknownFunction(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "Nope", nil)
	require.ErrorIs(t, err, chesserr.ErrFunctionUnknown)
}

func TestHelloHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("Hello", WrapTyped(hello))

	params, err := structpb.NewStruct(map[string]interface{}{"name": "operator", "message": "ping"})
	require.NoError(t, err)

	result, err := r.Dispatch(context.Background(), "Hello", params)
	require.NoError(t, err)

	m := result.AsMap()
	require.Equal(t, "Hello, operator!", m["greeting"])
	require.Equal(t, "ping", m["original"])
}

func TestDeployAndDeployStatusHandlers(t *testing.T) {
	launcher, err := deploy.NewLauncher(t.TempDir())
	require.NoError(t, err)

	r := Default(launcher)

	statusParams, err := structpb.NewStruct(map[string]interface{}{"ident": "missing-task"})
	require.NoError(t, err)

	result, err := r.Dispatch(context.Background(), "DeployStatus", statusParams)
	require.NoError(t, err)

	m := result.AsMap()
	require.Equal(t, "missing-task", m["ident"])
	require.Equal(t, false, m["success"])
	require.Equal(t, float64(127), m["rc"])
}
